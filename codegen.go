package vexcl

import (
	"fmt"
	"strings"

	"github.com/ananori99/vexcl/dtypes"
)

// Kernel source generation. A deterministic traversal of the expression tree
// (the same one signatures and argument binding use) renders each node as a
// textual sub-expression: leaves become indexed global-pointer reads,
// scalars become pass-by-value parameters, operators combine their children.
// The result is a single elementwise kernel writing one partition of the
// target -- the spmv and reduction variants wrap the same expression
// renderer in their own control flow.

// paramSlot is one kernel parameter derived from the expression: a vector
// leaf or a scalar constant, in traversal order.
type paramSlot struct {
	leaf   leafVector // nil for scalar slots
	scalar any
	dt     dtypes.DType
}

// collectSlots lists the expression's kernel parameters in traversal order.
func collectSlots(e *Expr) []paramSlot {
	var slots []paramSlot
	e.walk(func(n *Expr) {
		switch n.kind {
		case kindLeaf:
			slots = append(slots, paramSlot{leaf: n.leaf, dt: n.dt})
		case kindScalar:
			slots = append(slots, paramSlot{scalar: n.scalar, dt: n.dt})
		}
	})
	return slots
}

// fp64Pragma enables double precision where the element type needs it.
const fp64Pragma = "#if defined(cl_khr_fp64)\n#pragma OPENCL EXTENSION cl_khr_fp64 : enable\n#endif\n\n"

func kernelName(prefix string, sig uint64) string {
	return fmt.Sprintf("vexcl_%s_%016x", prefix, sig)
}

// renderExpr writes the sub-expression for one node. next numbers the
// parameter slots; indexVar is the element index variable in scope.
func renderExpr(sb *strings.Builder, e *Expr, next *int, indexVar string) {
	switch e.kind {
	case kindLeaf:
		*next++
		fmt.Fprintf(sb, "prm%d[%s]", *next, indexVar)
	case kindScalar:
		*next++
		fmt.Fprintf(sb, "prm%d", *next)
	case kindUnary:
		if fn := unaryFunc(e.op, e.dt); fn != "" {
			sb.WriteString(fn)
			sb.WriteString("(")
			renderExpr(sb, e.left, next, indexVar)
			sb.WriteString(")")
			return
		}
		sb.WriteString("(-(")
		renderExpr(sb, e.left, next, indexVar)
		sb.WriteString("))")
	case kindBinary:
		if fn := binaryFunc(e.op, e.dt); fn != "" {
			sb.WriteString(fn)
			sb.WriteString("(")
			renderExpr(sb, e.left, next, indexVar)
			sb.WriteString(", ")
			renderExpr(sb, e.right, next, indexVar)
			sb.WriteString(")")
			return
		}
		sb.WriteString("(")
		renderExpr(sb, e.left, next, indexVar)
		sb.WriteString(" ")
		sb.WriteString(binarySymbol(e.op))
		sb.WriteString(" ")
		renderExpr(sb, e.right, next, indexVar)
		sb.WriteString(")")
	}
}

// unaryFunc returns the builtin rendering a unary op, or "" for negation.
func unaryFunc(op OpType, dt dtypes.DType) string {
	switch op {
	case OpNeg:
		return ""
	case OpAbs:
		if dt.IsFloat() {
			return "fabs"
		}
		return "abs"
	case OpSqrt:
		return "sqrt"
	case OpSin:
		return "sin"
	case OpCos:
		return "cos"
	case OpTan:
		return "tan"
	case OpExp:
		return "exp"
	case OpLog:
		return "log"
	case OpFloor:
		return "floor"
	case OpCeil:
		return "ceil"
	}
	return ""
}

// binaryFunc returns the builtin rendering a binary op, or "" for operators
// with infix syntax.
func binaryFunc(op OpType, dt dtypes.DType) string {
	switch op {
	case OpMax:
		if dt.IsFloat() {
			return "fmax"
		}
		return "max"
	case OpMin:
		if dt.IsFloat() {
			return "fmin"
		}
		return "min"
	}
	return ""
}

func binarySymbol(op OpType) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpLess:
		return "<"
	case OpLessEq:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEq:
		return ">="
	case OpEq:
		return "=="
	case OpNotEq:
		return "!="
	}
	return "?"
}

func writeParamList(sb *strings.Builder, slots []paramSlot, resType, resName string) {
	sb.WriteString("    ulong n,\n")
	fmt.Fprintf(sb, "    global %s *%s", resType, resName)
	for i, slot := range slots {
		sb.WriteString(",\n")
		if slot.leaf != nil {
			fmt.Fprintf(sb, "    global const %s *prm%d", slot.dt.CLType(), i+1)
		} else {
			fmt.Fprintf(sb, "    %s prm%d", slot.dt.CLType(), i+1)
		}
	}
	sb.WriteString("\n    )\n")
}

// renderElementwise generates the kernel evaluating the expression into the
// target partition, one work item per element.
func renderElementwise(e *Expr, target dtypes.DType, slots []paramSlot, name string) string {
	var sb strings.Builder
	if target.RequiresFP64() || e.dt.RequiresFP64() {
		sb.WriteString(fp64Pragma)
	}
	fmt.Fprintf(&sb, "kernel void %s(\n", name)
	writeParamList(&sb, slots, target.CLType(), "res")
	sb.WriteString("{\n")
	sb.WriteString("    ulong idx = get_global_id(0);\n")
	sb.WriteString("    if (idx < n) {\n")
	sb.WriteString("        res[idx] = ")
	next := 0
	renderExpr(&sb, e, &next, "idx")
	sb.WriteString(";\n    }\n}\n")
	return sb.String()
}

// renderReduction generates the kernel folding the expression over the
// partition into one partial result, launched with a single work item per
// device. Sequential accumulation keeps the combine order deterministic for
// a given partitioning.
func renderReduction(e *Expr, target dtypes.DType, op ReduceOp, slots []paramSlot, name string) string {
	var sb strings.Builder
	if target.RequiresFP64() || e.dt.RequiresFP64() {
		sb.WriteString(fp64Pragma)
	}
	fmt.Fprintf(&sb, "kernel void %s(\n", name)
	writeParamList(&sb, slots, target.CLType(), "partial")
	sb.WriteString("{\n")
	sb.WriteString("    if (get_global_id(0) == 0) {\n")
	fmt.Fprintf(&sb, "        %s acc = %s;\n", target.CLType(), op.identityLiteral(target))
	sb.WriteString("        for (ulong idx = 0; idx < n; idx = idx + 1) {\n")
	sb.WriteString("            acc = ")
	next := 0
	var body strings.Builder
	renderExpr(&body, e, &next, "idx")
	sb.WriteString(op.combineSource("acc", body.String(), target))
	sb.WriteString(";\n        }\n")
	sb.WriteString("        partial[0] = acc;\n")
	sb.WriteString("    }\n}\n")
	return sb.String()
}

// renderSpMV generates the sparse matrix-vector kernel for one element
// type: one work item per row, accumulating the local CSR half over the
// device's own slice of x and the remote half over the gathered scratch
// buffer.
func renderSpMV(dt dtypes.DType, name string) string {
	t := dt.CLType()
	var sb strings.Builder
	if dt.RequiresFP64() {
		sb.WriteString(fp64Pragma)
	}
	fmt.Fprintf(&sb, `kernel void %s(
    ulong nrows,
    global const ulong *lrow,
    global const ulong *lcol,
    global const %s *lval,
    global const %s *xloc,
    global const ulong *rrow,
    global const ulong *rcol,
    global const %s *rval,
    global const %s *xrem,
    global %s *y
    )
{
    ulong i = get_global_id(0);
    if (i < nrows) {
        %s sum = 0;
        for (ulong j = lrow[i]; j < lrow[i + 1]; j = j + 1) {
            sum = sum + lval[j] * xloc[lcol[j]];
        }
        for (ulong j = rrow[i]; j < rrow[i + 1]; j = j + 1) {
            sum = sum + rval[j] * xrem[rcol[j]];
        }
        y[i] = sum;
    }
}
`, name, t, t, t, t, t, t)
	return sb.String()
}
