package vexcl

import (
	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/dtypes"
	"github.com/gomlx/exceptions"
)

// OpType tags the operation of an expression node.
type OpType int

const (
	OpInvalid OpType = iota

	// Unary operations.
	OpNeg
	OpAbs
	OpSqrt
	OpSin
	OpCos
	OpTan
	OpExp
	OpLog
	OpFloor
	OpCeil

	// Binary operations.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMax
	OpMin

	// Comparisons, yielding 0 or 1 in the operand element type.
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
	OpEq
	OpNotEq
)

var opNames = [...]string{
	OpInvalid: "Invalid",
	OpNeg:     "Neg", OpAbs: "Abs", OpSqrt: "Sqrt", OpSin: "Sin", OpCos: "Cos",
	OpTan: "Tan", OpExp: "Exp", OpLog: "Log", OpFloor: "Floor", OpCeil: "Ceil",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMax: "Max", OpMin: "Min",
	OpLess: "Less", OpLessEq: "LessEq", OpGreater: "Greater", OpGreaterEq: "GreaterEq",
	OpEq: "Eq", OpNotEq: "NotEq",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "Invalid"
	}
	return opNames[op]
}

type exprKind int

const (
	kindLeaf exprKind = iota
	kindScalar
	kindUnary
	kindBinary
)

// leafVector is the view of a distributed vector an expression needs:
// enough to validate operands and to bind per-device kernel arguments.
// *Vector[T] implements it for every element type.
type leafVector interface {
	queueSet() *QueueSet
	dtype() dtypes.DType
	length() int
	buffer(d int) cl.Buffer
	partRange(d int) Range
}

// Expr is one node of an immutable arithmetic expression tree over
// distributed vectors and scalar constants. Trees are built per statement
// with the package's builder functions and are not retained after
// evaluation.
//
// Builder functions panic (with a stack trace, see the exceptions package)
// on element type mismatches; everything checked at evaluation time --
// queue set identity, vector sizes -- is reported as an error instead.
type Expr struct {
	kind        exprKind
	op          OpType
	dt          dtypes.DType
	left, right *Expr
	leaf        leafVector
	scalar      any
}

// DType returns the element type of the expression.
func (e *Expr) DType() dtypes.DType { return e.dt }

// Term lifts a distributed vector into an expression leaf. The vector is
// referenced, not copied or owned.
func Term[T dtypes.Supported](v *Vector[T]) *Expr {
	return &Expr{kind: kindLeaf, dt: v.dtype(), leaf: v}
}

// Const builds a scalar constant node. Constants are passed to kernels by
// value, so expressions differing only in constant values share one compiled
// kernel.
func Const[T dtypes.Supported](value T) *Expr {
	return &Expr{kind: kindScalar, dt: dtypes.FromGenericsType[T](), scalar: value}
}

func unary(op OpType, operand *Expr) *Expr {
	return &Expr{kind: kindUnary, op: op, dt: operand.dt, left: operand}
}

func floatUnary(op OpType, operand *Expr) *Expr {
	if !operand.dt.IsFloat() {
		exceptions.Panicf("vexcl.%s requires a floating point operand, got %s", op, operand.dt)
	}
	return unary(op, operand)
}

// Neg negates the operand elementwise.
func Neg(operand *Expr) *Expr { return unary(OpNeg, operand) }

// Abs takes the elementwise absolute value.
func Abs(operand *Expr) *Expr { return unary(OpAbs, operand) }

// Sqrt takes the elementwise square root. Floating point operands only.
func Sqrt(operand *Expr) *Expr { return floatUnary(OpSqrt, operand) }

// Sin takes the elementwise sine. Floating point operands only.
func Sin(operand *Expr) *Expr { return floatUnary(OpSin, operand) }

// Cos takes the elementwise cosine. Floating point operands only.
func Cos(operand *Expr) *Expr { return floatUnary(OpCos, operand) }

// Tan takes the elementwise tangent. Floating point operands only.
func Tan(operand *Expr) *Expr { return floatUnary(OpTan, operand) }

// Exp takes the elementwise natural exponential. Floating point operands only.
func Exp(operand *Expr) *Expr { return floatUnary(OpExp, operand) }

// Log takes the elementwise natural logarithm. Floating point operands only.
func Log(operand *Expr) *Expr { return floatUnary(OpLog, operand) }

// Floor rounds elementwise towards negative infinity. Floating point
// operands only.
func Floor(operand *Expr) *Expr { return floatUnary(OpFloor, operand) }

// Ceil rounds elementwise towards positive infinity. Floating point
// operands only.
func Ceil(operand *Expr) *Expr { return floatUnary(OpCeil, operand) }

func binary(op OpType, left, right *Expr) *Expr {
	if left.dt != right.dt {
		exceptions.Panicf("vexcl.%s: mismatched element types %s and %s", op, left.dt, right.dt)
	}
	return &Expr{kind: kindBinary, op: op, dt: left.dt, left: left, right: right}
}

// Add adds two expressions elementwise.
func Add(left, right *Expr) *Expr { return binary(OpAdd, left, right) }

// Sub subtracts right from left elementwise.
func Sub(left, right *Expr) *Expr { return binary(OpSub, left, right) }

// Mul multiplies two expressions elementwise.
func Mul(left, right *Expr) *Expr { return binary(OpMul, left, right) }

// Div divides left by right elementwise.
func Div(left, right *Expr) *Expr { return binary(OpDiv, left, right) }

// Max takes the elementwise maximum.
func Max(left, right *Expr) *Expr { return binary(OpMax, left, right) }

// Min takes the elementwise minimum.
func Min(left, right *Expr) *Expr { return binary(OpMin, left, right) }

// Less compares elementwise, yielding 1 where left < right and 0 elsewhere.
func Less(left, right *Expr) *Expr { return binary(OpLess, left, right) }

// LessEq compares elementwise, yielding 1 where left <= right.
func LessEq(left, right *Expr) *Expr { return binary(OpLessEq, left, right) }

// Greater compares elementwise, yielding 1 where left > right.
func Greater(left, right *Expr) *Expr { return binary(OpGreater, left, right) }

// GreaterEq compares elementwise, yielding 1 where left >= right.
func GreaterEq(left, right *Expr) *Expr { return binary(OpGreaterEq, left, right) }

// Eq compares elementwise, yielding 1 where left == right.
func Eq(left, right *Expr) *Expr { return binary(OpEq, left, right) }

// NotEq compares elementwise, yielding 1 where left != right.
func NotEq(left, right *Expr) *Expr { return binary(OpNotEq, left, right) }

// walk visits the tree depth-first, left before right, calling visit for
// every node. Parameter binding, signatures and code generation all use this
// same traversal, which keeps their orderings consistent.
func (e *Expr) walk(visit func(*Expr)) {
	visit(e)
	if e.left != nil {
		e.left.walk(visit)
	}
	if e.right != nil {
		e.right.walk(visit)
	}
}
