package clsim

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// cType is a scalar OpenCL C type as it appears in kernel source.
type cType int

const (
	ctVoid cType = iota
	ctChar
	ctInt
	ctUint
	ctLong
	ctUlong
	ctHalf
	ctFloat
	ctDouble
)

var typeNames = map[string]cType{
	"char":   ctChar,
	"int":    ctInt,
	"uint":   ctUint,
	"long":   ctLong,
	"ulong":  ctUlong,
	"half":   ctHalf,
	"float":  ctFloat,
	"double": ctDouble,
}

func (t cType) isFloat() bool {
	return t == ctHalf || t == ctFloat || t == ctDouble
}

func (t cType) isUnsigned() bool {
	return t == ctUint || t == ctUlong || t == ctChar
}

// promote returns the result type of arithmetic between two operand types,
// following the usual C conversions restricted to the types we generate.
func promote(a, b cType) cType {
	if b > a {
		a, b = b, a
	}
	if a == ctHalf {
		// Arithmetic on half happens in single precision.
		return ctFloat
	}
	return a
}

// param is one kernel parameter declaration.
type param struct {
	name      string
	typ       cType
	isPointer bool
	isConst   bool
}

// kernelFunc is one parsed kernel entry point.
type kernelFunc struct {
	name   string
	params []param
	body   stmt
}

// program is a parsed translation unit.
type program struct {
	kernels []*kernelFunc
}

func (p *program) kernel(name string) *kernelFunc {
	for _, fn := range p.kernels {
		if fn.name == name {
			return fn
		}
	}
	return nil
}

// usesFP64 reports whether the kernel declares any double-typed parameter or
// local, which requires device fp64 support.
func (fn *kernelFunc) usesFP64() bool {
	for _, p := range fn.params {
		if p.typ == ctDouble {
			return true
		}
	}
	return declaresDouble(fn.body)
}

func declaresDouble(s stmt) bool {
	switch st := s.(type) {
	case *blockStmt:
		for _, sub := range st.stmts {
			if declaresDouble(sub) {
				return true
			}
		}
	case *declStmt:
		return st.typ == ctDouble
	case *forStmt:
		return declaresDouble(st.init) || declaresDouble(st.body)
	case *ifStmt:
		return declaresDouble(st.body)
	}
	return false
}

// Statements.
type stmt interface{}

type blockStmt struct{ stmts []stmt }

type declStmt struct {
	typ  cType
	name string
	init expr // may be nil
}

type assignStmt struct {
	name     string
	index    expr // nil for scalar variables
	hasIndex bool
	value    expr
}

type forStmt struct {
	init stmt // *declStmt or *assignStmt
	cond expr
	post stmt // *assignStmt
	body stmt
}

type ifStmt struct {
	cond expr
	body stmt
}

// Expressions.
type expr interface{}

type numberLit struct{ val value }

type identExpr struct{ name string }

type indexExpr struct {
	name  string
	index expr
}

type callExpr struct {
	name string
	args []expr
}

type unaryExpr struct {
	op      string
	operand expr
}

type binaryExpr struct {
	op          string
	left, right expr
}

type condExpr struct {
	cond, then, otherwise expr
}

type parser struct {
	tokens []token
	pos    int
}

// parseProgram compiles source into a program; errors carry the source line.
func parseProgram(source string) (*program, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	prog := &program{}
	for p.peek().kind != tokEOF {
		fn, err := p.parseKernel()
		if err != nil {
			return nil, err
		}
		prog.kernels = append(prog.kernels, fn)
	}
	if len(prog.kernels) == 0 {
		return nil, errors.New("no kernel function in program")
	}
	return prog, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptPunct(text string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptIdent(text string) bool {
	if t := p.peek(); t.kind == tokIdent && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		t := p.peek()
		return errors.Errorf("line %d: expected %q, found %q", t.line, text, t.text)
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", errors.Errorf("line %d: expected identifier, found %q", t.line, t.text)
	}
	p.pos++
	return t.text, nil
}

func (p *parser) peekType() (cType, bool) {
	t := p.peek()
	if t.kind != tokIdent {
		return ctVoid, false
	}
	ct, ok := typeNames[t.text]
	return ct, ok
}

func (p *parser) parseKernel() (*kernelFunc, error) {
	t := p.peek()
	if !p.acceptIdent("kernel") {
		return nil, errors.Errorf("line %d: expected \"kernel\", found %q", t.line, t.text)
	}
	if !p.acceptIdent("void") {
		return nil, errors.Errorf("line %d: only void kernels are supported", p.peek().line)
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	fn := &kernelFunc{name: name}
	for !p.acceptPunct(")") {
		if len(fn.params) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		prm, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		fn.params = append(fn.params, prm)
	}
	fn.body, err = p.parseBlock()
	if err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *parser) parseParam() (param, error) {
	var prm param
	p.acceptIdent("global")
	prm.isConst = p.acceptIdent("const")
	typ, ok := p.peekType()
	if !ok {
		t := p.peek()
		return prm, errors.Errorf("line %d: expected parameter type, found %q", t.line, t.text)
	}
	p.pos++
	prm.typ = typ
	prm.isPointer = p.acceptPunct("*")
	name, err := p.expectIdent()
	if err != nil {
		return prm, err
	}
	prm.name = name
	return prm, nil
}

func (p *parser) parseBlock() (stmt, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	block := &blockStmt{}
	for !p.acceptPunct("}") {
		if p.peek().kind == tokEOF {
			return nil, errors.Errorf("line %d: unexpected end of source inside block", p.peek().line)
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		block.stmts = append(block.stmts, s)
	}
	return block, nil
}

func (p *parser) parseStmt() (stmt, error) {
	t := p.peek()
	switch {
	case t.kind == tokPunct && t.text == "{":
		return p.parseBlock()
	case t.kind == tokIdent && t.text == "for":
		return p.parseFor()
	case t.kind == tokIdent && t.text == "if":
		return p.parseIf()
	}
	if _, isType := p.peekType(); isType {
		decl, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return decl, nil
	}
	assign, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return assign, nil
}

func (p *parser) parseDecl() (*declStmt, error) {
	typ, _ := p.peekType()
	p.pos++
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	decl := &declStmt{typ: typ, name: name}
	if p.acceptPunct("=") {
		decl.init, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return decl, nil
}

func (p *parser) parseAssign() (*assignStmt, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	assign := &assignStmt{name: name}
	if p.acceptPunct("[") {
		assign.hasIndex = true
		assign.index, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	assign.value, err = p.parseExpr()
	if err != nil {
		return nil, err
	}
	return assign, nil
}

func (p *parser) parseFor() (stmt, error) {
	p.pos++ // "for"
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	loop := &forStmt{}
	var err error
	if _, isType := p.peekType(); isType {
		loop.init, err = p.parseDecl()
	} else {
		loop.init, err = p.parseAssign()
	}
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	loop.cond, err = p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	loop.post, err = p.parseAssign()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	loop.body, err = p.parseStmt()
	if err != nil {
		return nil, err
	}
	return loop, nil
}

func (p *parser) parseIf() (stmt, error) {
	p.pos++ // "if"
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &ifStmt{cond: cond, body: body}, nil
}

// Expression parsing, one level per precedence tier.

func (p *parser) parseExpr() (expr, error) {
	return p.parseConditional()
}

func (p *parser) parseConditional() (expr, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.acceptPunct("?") {
		return cond, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &condExpr{cond: cond, then: then, otherwise: otherwise}, nil
}

// binaryLevels orders operators from loosest to tightest binding.
var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) parseBinary(level int) (expr, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || !contains(binaryLevels[level], t.text) {
			return left, nil
		}
		p.pos++
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right}
	}
}

func contains(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (p *parser) parseUnary() (expr, error) {
	t := p.peek()
	if t.kind == tokPunct && (t.text == "-" || t.text == "!" || t.text == "+") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return operand, nil
		}
		return &unaryExpr{op: t.text, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.pos++
		v, err := parseNumber(t.text)
		if err != nil {
			return nil, errors.Errorf("line %d: %v", t.line, err)
		}
		return &numberLit{val: v}, nil
	case tokIdent:
		p.pos++
		name := t.text
		if p.acceptPunct("(") {
			call := &callExpr{name: name}
			for !p.acceptPunct(")") {
				if len(call.args) > 0 {
					if err := p.expectPunct(","); err != nil {
						return nil, err
					}
				}
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.args = append(call.args, arg)
			}
			return call, nil
		}
		if p.acceptPunct("[") {
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			return &indexExpr{name: name, index: idx}, nil
		}
		return &identExpr{name: name}, nil
	case tokPunct:
		if t.text == "(" {
			p.pos++
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, errors.Errorf("line %d: unexpected token %q in expression", t.line, t.text)
}

// parseNumber converts a C numeric literal into a typed value.
func parseNumber(text string) (value, error) {
	lower := strings.ToLower(text)
	isFloat32 := strings.HasSuffix(lower, "f")
	unsigned := false
	long := false
	trimmed := lower
	for {
		switch {
		case strings.HasSuffix(trimmed, "f"):
			trimmed = trimmed[:len(trimmed)-1]
		case strings.HasSuffix(trimmed, "u"):
			unsigned = true
			trimmed = trimmed[:len(trimmed)-1]
		case strings.HasSuffix(trimmed, "l"):
			long = true
			trimmed = trimmed[:len(trimmed)-1]
		default:
			goto parsed
		}
	}
parsed:
	if strings.ContainsAny(trimmed, ".e") || isFloat32 {
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return value{}, errors.Errorf("invalid numeric literal %q", text)
		}
		if isFloat32 {
			return makeFloat(f, ctFloat), nil
		}
		return makeFloat(f, ctDouble), nil
	}
	typ := ctInt
	switch {
	case unsigned && long:
		typ = ctUlong
	case unsigned:
		typ = ctUint
	case long:
		typ = ctLong
	}
	if unsigned {
		u, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return value{}, errors.Errorf("invalid numeric literal %q", text)
		}
		return value{i: int64(u), t: typ}, nil
	}
	i, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return value{}, errors.Errorf("invalid numeric literal %q", text)
	}
	return value{i: i, t: typ}, nil
}
