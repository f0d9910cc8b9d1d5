// Package vexcl is a host-side runtime for vector arithmetic on one or
// more compute devices.
//
// A program starts by selecting devices with composable filters and
// building a QueueSet, the unit over which all containers are
// partitioned:
//
//	driver, err := cl.New()
//	qs, err := vexcl.NewQueueSet(driver, vexcl.And(vexcl.Type(cl.DeviceTypeGPU), vexcl.DoublePrecision()))
//
// Vectors are split across the devices by contiguous blocks and behave
// as single logical containers:
//
//	x, err := vexcl.FromHost(qs, hostData)
//	y, err := vexcl.New[float64](qs, n)
//
// Arithmetic is expressed as trees of Term, Const and the operator
// builders, then assigned to a vector. Each distinct expression shape is
// compiled to one device kernel per context, cached, and launched once
// per device partition:
//
//	err = y.Assign(vexcl.Add(vexcl.Sqrt(vexcl.Mul(vexcl.Const[float64](2), vexcl.Term(x))), vexcl.Cos(vexcl.Term(y))))
//
// Reductor folds expressions to a scalar, and SpMat multiplies a
// distributed CSR matrix with a vector, gathering remote entries of the
// input before each product. Together they are enough for iterative
// solvers; see examples/cg.go for a conjugate gradient implementation.
package vexcl
