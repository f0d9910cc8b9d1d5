package clsim

import (
	"math"
	"unsafe"

	"github.com/ananori99/vexcl/cl"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// value is one scalar during interpretation. Float types live in f, integer
// types in i (with unsigned types holding the uint64 bit pattern).
type value struct {
	f float64
	i int64
	t cType
}

// makeFloat builds a floating value, rounding through float32 when the type
// is single precision so simulated kernels round like real devices.
func makeFloat(f float64, t cType) value {
	if t == ctFloat || t == ctHalf {
		f = float64(float32(f))
	}
	return value{f: f, t: t}
}

func (v value) asFloat64() float64 {
	if v.t.isFloat() {
		return v.f
	}
	if v.t.isUnsigned() {
		return float64(uint64(v.i))
	}
	return float64(v.i)
}

func (v value) asInt64() int64 {
	if v.t.isFloat() {
		return int64(v.f)
	}
	return v.i
}

func (v value) truth() bool {
	if v.t.isFloat() {
		return v.f != 0
	}
	return v.i != 0
}

// convert coerces a value to the given type, as a C assignment would.
func (v value) convert(t cType) value {
	if t.isFloat() {
		return makeFloat(v.asFloat64(), t)
	}
	return value{i: v.asInt64(), t: t}
}

// argBinding is a kernel parameter bound to its launch argument.
type argBinding struct {
	isPointer bool
	readOnly  bool
	elem      cType
	data      []byte // pointer parameters
	val       value  // scalar parameters
}

// execEnv is the state of one kernel launch being interpreted.
type execEnv struct {
	args       map[string]*argBinding
	locals     map[string]value
	gid        int64
	globalSize int64
}

// execute runs the kernel once per work item, in work-item order.
func (fn *kernelFunc) execute(args []cl.Arg, globalSize int) error {
	if len(args) != len(fn.params) {
		return errors.Errorf("kernel %q takes %d arguments, got %d", fn.name, len(fn.params), len(args))
	}
	env := &execEnv{
		args:       make(map[string]*argBinding, len(fn.params)),
		globalSize: int64(globalSize),
	}
	for i, prm := range fn.params {
		binding, err := bindArg(prm, args[i])
		if err != nil {
			return errors.WithMessagef(err, "kernel %q argument %d (%s)", fn.name, i, prm.name)
		}
		env.args[prm.name] = binding
	}
	for gid := 0; gid < globalSize; gid++ {
		env.gid = int64(gid)
		env.locals = make(map[string]value)
		if err := env.execStmt(fn.body); err != nil {
			return errors.WithMessagef(err, "kernel %q, work item %d", fn.name, gid)
		}
	}
	return nil
}

func bindArg(prm param, arg cl.Arg) (*argBinding, error) {
	if prm.isPointer {
		if arg.Buffer == nil {
			return nil, errors.New("pointer parameter needs a buffer argument")
		}
		simBuf, ok := arg.Buffer.(*buffer)
		if !ok {
			return nil, errors.New("buffer argument does not belong to the simulated driver")
		}
		data, err := simBuf.bytes()
		if err != nil {
			return nil, err
		}
		return &argBinding{isPointer: true, readOnly: prm.isConst, elem: prm.typ, data: data}, nil
	}
	if arg.Value == nil {
		return nil, errors.New("scalar parameter needs a value argument")
	}
	v, err := scalarValue(arg.Value)
	if err != nil {
		return nil, err
	}
	return &argBinding{elem: prm.typ, val: v.convert(prm.typ)}, nil
}

func scalarValue(raw any) (value, error) {
	switch v := raw.(type) {
	case int:
		return value{i: int64(v), t: ctLong}, nil
	case int32:
		return value{i: int64(v), t: ctInt}, nil
	case int64:
		return value{i: v, t: ctLong}, nil
	case uint32:
		return value{i: int64(v), t: ctUint}, nil
	case uint64:
		return value{i: int64(v), t: ctUlong}, nil
	case float16.Float16:
		return makeFloat(float64(v.Float32()), ctHalf), nil
	case float32:
		return makeFloat(float64(v), ctFloat), nil
	case float64:
		return value{f: v, t: ctDouble}, nil
	}
	return value{}, errors.Errorf("unsupported scalar argument type %T", raw)
}

func (env *execEnv) execStmt(s stmt) error {
	switch st := s.(type) {
	case *blockStmt:
		for _, sub := range st.stmts {
			if err := env.execStmt(sub); err != nil {
				return err
			}
		}
	case *declStmt:
		v := value{t: st.typ}
		if st.init != nil {
			init, err := env.eval(st.init)
			if err != nil {
				return err
			}
			v = init.convert(st.typ)
		}
		env.locals[st.name] = v
	case *assignStmt:
		return env.execAssign(st)
	case *forStmt:
		if err := env.execStmt(st.init); err != nil {
			return err
		}
		for {
			cond, err := env.eval(st.cond)
			if err != nil {
				return err
			}
			if !cond.truth() {
				return nil
			}
			if err := env.execStmt(st.body); err != nil {
				return err
			}
			if err := env.execStmt(st.post); err != nil {
				return err
			}
		}
	case *ifStmt:
		cond, err := env.eval(st.cond)
		if err != nil {
			return err
		}
		if cond.truth() {
			return env.execStmt(st.body)
		}
	default:
		return errors.Errorf("unsupported statement %T", s)
	}
	return nil
}

func (env *execEnv) execAssign(st *assignStmt) error {
	v, err := env.eval(st.value)
	if err != nil {
		return err
	}
	if st.hasIndex {
		binding, ok := env.args[st.name]
		if !ok || !binding.isPointer {
			return errors.Errorf("%q is not a pointer parameter", st.name)
		}
		if binding.readOnly {
			return errors.Errorf("store through const pointer %q", st.name)
		}
		idx, err := env.eval(st.index)
		if err != nil {
			return err
		}
		return storeElem(binding, idx.asInt64(), v)
	}
	if old, ok := env.locals[st.name]; ok {
		env.locals[st.name] = v.convert(old.t)
		return nil
	}
	return errors.Errorf("assignment to undeclared variable %q", st.name)
}

func loadElem(b *argBinding, idx int64) (value, error) {
	size := int64(ctypeSize(b.elem))
	off := idx * size
	if idx < 0 || off+size > int64(len(b.data)) {
		return value{}, errors.Errorf("load of element %d out of bounds for buffer of %d bytes", idx, len(b.data))
	}
	p := unsafe.Pointer(&b.data[off])
	switch b.elem {
	case ctChar:
		return value{i: int64(*(*int8)(p)), t: ctChar}, nil
	case ctInt:
		return value{i: int64(*(*int32)(p)), t: ctInt}, nil
	case ctUint:
		return value{i: int64(*(*uint32)(p)), t: ctUint}, nil
	case ctLong:
		return value{i: *(*int64)(p), t: ctLong}, nil
	case ctUlong:
		return value{i: int64(*(*uint64)(p)), t: ctUlong}, nil
	case ctHalf:
		h := float16.Frombits(*(*uint16)(p))
		return makeFloat(float64(h.Float32()), ctHalf), nil
	case ctFloat:
		return makeFloat(float64(*(*float32)(p)), ctFloat), nil
	case ctDouble:
		return value{f: *(*float64)(p), t: ctDouble}, nil
	}
	return value{}, errors.Errorf("load of unsupported element type")
}

func storeElem(b *argBinding, idx int64, v value) error {
	size := int64(ctypeSize(b.elem))
	off := idx * size
	if idx < 0 || off+size > int64(len(b.data)) {
		return errors.Errorf("store of element %d out of bounds for buffer of %d bytes", idx, len(b.data))
	}
	p := unsafe.Pointer(&b.data[off])
	v = v.convert(b.elem)
	switch b.elem {
	case ctChar:
		*(*int8)(p) = int8(v.i)
	case ctInt:
		*(*int32)(p) = int32(v.i)
	case ctUint:
		*(*uint32)(p) = uint32(v.i)
	case ctLong:
		*(*int64)(p) = v.i
	case ctUlong:
		*(*uint64)(p) = uint64(v.i)
	case ctHalf:
		*(*uint16)(p) = float16.Fromfloat32(float32(v.f)).Bits()
	case ctFloat:
		*(*float32)(p) = float32(v.f)
	case ctDouble:
		*(*float64)(p) = v.f
	default:
		return errors.Errorf("store of unsupported element type")
	}
	return nil
}

func ctypeSize(t cType) int {
	switch t {
	case ctChar:
		return 1
	case ctHalf:
		return 2
	case ctInt, ctUint, ctFloat:
		return 4
	}
	return 8
}

func (env *execEnv) eval(e expr) (value, error) {
	switch ex := e.(type) {
	case *numberLit:
		return ex.val, nil
	case *identExpr:
		if v, ok := env.locals[ex.name]; ok {
			return v, nil
		}
		if binding, ok := env.args[ex.name]; ok {
			if binding.isPointer {
				return value{}, errors.Errorf("pointer parameter %q used as a scalar", ex.name)
			}
			return binding.val, nil
		}
		if ex.name == "INFINITY" {
			return value{f: math.Inf(1), t: ctFloat}, nil
		}
		return value{}, errors.Errorf("unknown identifier %q", ex.name)
	case *indexExpr:
		binding, ok := env.args[ex.name]
		if !ok || !binding.isPointer {
			return value{}, errors.Errorf("%q is not a pointer parameter", ex.name)
		}
		idx, err := env.eval(ex.index)
		if err != nil {
			return value{}, err
		}
		return loadElem(binding, idx.asInt64())
	case *callExpr:
		return env.evalCall(ex)
	case *unaryExpr:
		v, err := env.eval(ex.operand)
		if err != nil {
			return value{}, err
		}
		switch ex.op {
		case "-":
			if v.t.isFloat() {
				return makeFloat(-v.f, v.t), nil
			}
			return value{i: -v.i, t: v.t}, nil
		case "!":
			if v.truth() {
				return value{t: ctInt}, nil
			}
			return value{i: 1, t: ctInt}, nil
		}
		return value{}, errors.Errorf("unsupported unary operator %q", ex.op)
	case *binaryExpr:
		return env.evalBinary(ex)
	case *condExpr:
		cond, err := env.eval(ex.cond)
		if err != nil {
			return value{}, err
		}
		if cond.truth() {
			return env.eval(ex.then)
		}
		return env.eval(ex.otherwise)
	}
	return value{}, errors.Errorf("unsupported expression %T", e)
}

func (env *execEnv) evalBinary(ex *binaryExpr) (value, error) {
	if ex.op == "&&" || ex.op == "||" {
		left, err := env.eval(ex.left)
		if err != nil {
			return value{}, err
		}
		// Short-circuit evaluation, as in C.
		if ex.op == "&&" && !left.truth() {
			return value{t: ctInt}, nil
		}
		if ex.op == "||" && left.truth() {
			return value{i: 1, t: ctInt}, nil
		}
		right, err := env.eval(ex.right)
		if err != nil {
			return value{}, err
		}
		if right.truth() {
			return value{i: 1, t: ctInt}, nil
		}
		return value{t: ctInt}, nil
	}

	left, err := env.eval(ex.left)
	if err != nil {
		return value{}, err
	}
	right, err := env.eval(ex.right)
	if err != nil {
		return value{}, err
	}
	t := promote(left.t, right.t)

	if isComparison(ex.op) {
		var result bool
		if t.isFloat() {
			result = compareFloats(ex.op, left.asFloat64(), right.asFloat64())
		} else if t.isUnsigned() {
			result = compareUints(ex.op, uint64(left.asInt64()), uint64(right.asInt64()))
		} else {
			result = compareInts(ex.op, left.asInt64(), right.asInt64())
		}
		if result {
			return value{i: 1, t: ctInt}, nil
		}
		return value{t: ctInt}, nil
	}

	if t.isFloat() {
		a, b := left.asFloat64(), right.asFloat64()
		switch ex.op {
		case "+":
			return makeFloat(a+b, t), nil
		case "-":
			return makeFloat(a-b, t), nil
		case "*":
			return makeFloat(a*b, t), nil
		case "/":
			return makeFloat(a/b, t), nil
		}
		return value{}, errors.Errorf("unsupported floating operator %q", ex.op)
	}

	a, b := left.asInt64(), right.asInt64()
	if ex.op == "/" || ex.op == "%" {
		if b == 0 {
			return value{}, errors.New("integer division by zero")
		}
	}
	if t.isUnsigned() {
		ua, ub := uint64(a), uint64(b)
		var r uint64
		switch ex.op {
		case "+":
			r = ua + ub
		case "-":
			r = ua - ub
		case "*":
			r = ua * ub
		case "/":
			r = ua / ub
		case "%":
			r = ua % ub
		default:
			return value{}, errors.Errorf("unsupported integer operator %q", ex.op)
		}
		return value{i: int64(r), t: t}, nil
	}
	var r int64
	switch ex.op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		r = a / b
	case "%":
		r = a % b
	default:
		return value{}, errors.Errorf("unsupported integer operator %q", ex.op)
	}
	return value{i: r, t: t}, nil
}

func isComparison(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

func compareFloats(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	}
	return a != b
}

func compareInts(op string, a, b int64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	}
	return a != b
}

func compareUints(op string, a, b uint64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	}
	return a != b
}

func (env *execEnv) evalCall(call *callExpr) (value, error) {
	args := make([]value, len(call.args))
	for i, argExpr := range call.args {
		v, err := env.eval(argExpr)
		if err != nil {
			return value{}, err
		}
		args[i] = v
	}

	switch call.name {
	case "get_global_id":
		return value{i: env.gid, t: ctUlong}, nil
	case "get_global_size":
		return value{i: env.globalSize, t: ctUlong}, nil
	case "abs":
		if len(args) != 1 {
			return value{}, errors.New("abs takes one argument")
		}
		v := args[0]
		if v.i < 0 {
			return value{i: -v.i, t: v.t}, nil
		}
		return v, nil
	case "min", "max":
		if len(args) != 2 {
			return value{}, errors.Errorf("%s takes two arguments", call.name)
		}
		t := promote(args[0].t, args[1].t)
		a, b := args[0].asInt64(), args[1].asInt64()
		takeA := a < b
		if t.isUnsigned() {
			takeA = uint64(a) < uint64(b)
		}
		if call.name == "max" {
			takeA = !takeA
		}
		if takeA {
			return value{i: a, t: t}, nil
		}
		return value{i: b, t: t}, nil
	case "fmax", "fmin", "pow":
		if len(args) != 2 {
			return value{}, errors.Errorf("%s takes two arguments", call.name)
		}
		t := promote(args[0].t, args[1].t)
		a, b := args[0].asFloat64(), args[1].asFloat64()
		if t == ctFloat || t == ctHalf {
			fa, fb := float32(a), float32(b)
			switch call.name {
			case "fmax":
				return makeFloat(float64(math32.Max(fa, fb)), ctFloat), nil
			case "fmin":
				return makeFloat(float64(math32.Min(fa, fb)), ctFloat), nil
			}
			return makeFloat(float64(math32.Pow(fa, fb)), ctFloat), nil
		}
		switch call.name {
		case "fmax":
			return value{f: math.Max(a, b), t: ctDouble}, nil
		case "fmin":
			return value{f: math.Min(a, b), t: ctDouble}, nil
		}
		return value{f: math.Pow(a, b), t: ctDouble}, nil
	}

	if len(args) != 1 {
		return value{}, errors.Errorf("unknown function %q", call.name)
	}
	arg := args[0]
	if arg.t == ctFloat || arg.t == ctHalf {
		fn, ok := builtins32[call.name]
		if !ok {
			return value{}, errors.Errorf("unknown function %q", call.name)
		}
		return makeFloat(float64(fn(float32(arg.asFloat64()))), ctFloat), nil
	}
	fn, ok := builtins64[call.name]
	if !ok {
		return value{}, errors.Errorf("unknown function %q", call.name)
	}
	return value{f: fn(arg.asFloat64()), t: ctDouble}, nil
}

// Single-argument math builtins. Kernels over float operands use the float32
// variants so results round exactly like single precision hardware.
var builtins64 = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"fabs":  math.Abs,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"exp":   math.Exp,
	"log":   math.Log,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

var builtins32 = map[string]func(float32) float32{
	"sqrt":  math32.Sqrt,
	"fabs":  math32.Abs,
	"sin":   math32.Sin,
	"cos":   math32.Cos,
	"tan":   math32.Tan,
	"exp":   math32.Exp,
	"log":   math32.Log,
	"floor": math32.Floor,
	"ceil":  math32.Ceil,
}
