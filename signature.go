package vexcl

import (
	"github.com/ananori99/vexcl/dtypes"
	"github.com/zeebo/xxh3"
)

// Kernel signatures are structural: they hash the shape of an expression
// tree (node kinds, operator tags, element types), never the identity of
// the vectors or the data involved. Two structurally identical expressions
// over different vectors therefore share one signature and one compiled
// kernel per context. Scalar constants are bound as kernel parameters, so
// their values stay out of the signature too.

const (
	sigTagElementwise byte = 'E'
	sigTagReduction   byte = 'R'
	sigTagSpMV        byte = 'M'
)

func signatureOf(e *Expr, target dtypes.DType) uint64 {
	buf := make([]byte, 0, 64)
	buf = append(buf, sigTagElementwise, byte(target))
	appendTreeBytes(&buf, e)
	return xxh3.Hash(buf)
}

func reduceSignature(e *Expr, target dtypes.DType, op ReduceOp) uint64 {
	buf := make([]byte, 0, 64)
	buf = append(buf, sigTagReduction, byte(op), byte(target))
	appendTreeBytes(&buf, e)
	return xxh3.Hash(buf)
}

func spmvSignature(dt dtypes.DType) uint64 {
	return xxh3.Hash([]byte{sigTagSpMV, byte(dt)})
}

func appendTreeBytes(buf *[]byte, e *Expr) {
	e.walk(func(n *Expr) {
		*buf = append(*buf, byte(n.kind), byte(n.op), byte(n.dt))
	})
}
