package vexcl

import (
	"fmt"

	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// ReduceOp selects the associative combine function of a Reductor.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceProduct
	ReduceMax
	ReduceMin
)

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	switch op {
	case ReduceSum:
		return "Sum"
	case ReduceProduct:
		return "Product"
	case ReduceMax:
		return "Max"
	case ReduceMin:
		return "Min"
	}
	return "Invalid"
}

// identityLiteral renders the combine identity as an OpenCL C literal of
// the element type.
func (op ReduceOp) identityLiteral(dt dtypes.DType) string {
	switch op {
	case ReduceSum:
		return "0"
	case ReduceProduct:
		return "1"
	case ReduceMax:
		if dt.IsFloat() {
			return "(-INFINITY)"
		}
		switch dt {
		case dtypes.Int32:
			return "(-2147483647 - 1)"
		case dtypes.Int64:
			return "(-9223372036854775807l - 1)"
		}
		return "0"
	case ReduceMin:
		if dt.IsFloat() {
			return "INFINITY"
		}
		switch dt {
		case dtypes.Int32:
			return "2147483647"
		case dtypes.Int64:
			return "9223372036854775807l"
		case dtypes.Uint32:
			return "4294967295u"
		}
		return "18446744073709551615ul"
	}
	return "0"
}

// combineSource renders one combine step of the device-side accumulation.
func (op ReduceOp) combineSource(acc, operand string, dt dtypes.DType) string {
	switch op {
	case ReduceSum:
		return fmt.Sprintf("%s + (%s)", acc, operand)
	case ReduceProduct:
		return fmt.Sprintf("%s * (%s)", acc, operand)
	case ReduceMax:
		if dt.IsFloat() {
			return fmt.Sprintf("fmax(%s, (%s))", acc, operand)
		}
		return fmt.Sprintf("max(%s, (%s))", acc, operand)
	case ReduceMin:
		if dt.IsFloat() {
			return fmt.Sprintf("fmin(%s, (%s))", acc, operand)
		}
		return fmt.Sprintf("min(%s, (%s))", acc, operand)
	}
	return acc
}

// Reductor folds expressions over distributed vectors into a single scalar
// with an associative combine function: each device reduces its own
// partition into a partial result, then the host combines the partials in
// device order.
//
// Floating point reductions are order sensitive in principle: different
// device counts partition the data differently and can change the rounding
// of the result. That is an accepted property of the design, not a bug;
// integer reductions are exact under any partitioning.
type Reductor[T dtypes.Supported] struct {
	qs       *QueueSet
	op       ReduceOp
	partials []cl.Buffer // one element per device
}

// NewReductor creates a reductor over the queue set, allocating one
// single-element partial buffer per device.
func NewReductor[T dtypes.Supported](qs *QueueSet, op ReduceOp) (*Reductor[T], error) {
	if qs == nil || qs.NumDevices() == 0 {
		return nil, errors.New("vexcl: cannot create a reductor over an empty queue set")
	}
	r := &Reductor[T]{qs: qs, op: op}
	dt := dtypes.FromGenericsType[T]()
	r.partials = make([]cl.Buffer, qs.NumDevices())
	for d := range r.partials {
		buf, err := qs.Context(d).AllocBuffer(dt.Size(), cl.ReadWrite)
		if err != nil {
			r.Release()
			return nil, errors.WithMessagef(err, "allocating partial result for device %q", qs.Device(d).Name())
		}
		r.partials[d] = buf
	}
	return r, nil
}

// Apply reduces the expression over all devices and returns the scalar
// result. The expression must reference at least one vector, and all
// referenced vectors must share the reductor's queue set.
func (r *Reductor[T]) Apply(e *Expr) (T, error) {
	var zero T
	dt := dtypes.FromGenericsType[T]()
	if e.dt != dt {
		return zero, errors.Errorf("vexcl: cannot reduce %s expression with a %s reductor", e.dt, dt)
	}
	slots := collectSlots(e)
	var first leafVector
	for _, slot := range slots {
		if slot.leaf != nil {
			first = slot.leaf
			break
		}
	}
	if first == nil {
		return zero, errors.New("vexcl: reduction needs at least one vector operand")
	}
	if err := checkOperands(r.qs, first, slots); err != nil {
		return zero, err
	}

	sig := reduceSignature(e, dt, r.op)
	name := kernelName("red", sig)

	events := make([]cl.Event, 0, r.qs.NumDevices())
	for d := 0; d < r.qs.NumDevices(); d++ {
		kernel, err := r.qs.cacheFor(d).get(sig, func() (string, string) {
			return renderReduction(e, dt, r.op, slots, name), name
		})
		if err != nil {
			drain(events)
			return zero, err
		}
		args := make([]cl.Arg, 0, len(slots)+2)
		args = append(args, cl.ValueArg(uint64(first.partRange(d).Size())), cl.BufferArg(r.partials[d]))
		args = appendSlotArgs(args, slots, d)
		// Launched even for empty partitions so the partial holds the
		// identity, not stale bytes.
		ev, err := r.qs.Queue(d).EnqueueKernel(kernel, args, 1)
		if err != nil {
			drain(events)
			return zero, errors.WithMessagef(err, "launching reduction on device %q", r.qs.Device(d).Name())
		}
		events = append(events, ev)
	}
	if err := cl.WaitAll(events...); err != nil {
		return zero, err
	}

	partials := make([]T, r.qs.NumDevices())
	readEvents := make([]cl.Event, 0, len(partials))
	for d := range partials {
		ev, err := r.qs.Queue(d).EnqueueRead(r.partials[d], 0, dtypes.ToBytes(partials[d:d+1]))
		if err != nil {
			drain(readEvents)
			return zero, err
		}
		readEvents = append(readEvents, ev)
	}
	if err := cl.WaitAll(readEvents...); err != nil {
		return zero, err
	}
	return hostCombine(r.op, partials), nil
}

// ApplyVector reduces a plain vector.
func (r *Reductor[T]) ApplyVector(v *Vector[T]) (T, error) {
	return r.Apply(Term(v))
}

// Release frees the per-device partial buffers.
func (r *Reductor[T]) Release() {
	for d, buf := range r.partials {
		if buf == nil {
			continue
		}
		if err := buf.Release(); err != nil {
			klog.Errorf("vexcl: releasing partial buffer %d: %v", d, err)
		}
		r.partials[d] = nil
	}
}

// SumOf sums a vector with a transient reductor.
func SumOf[T dtypes.Supported](v *Vector[T]) (T, error) {
	return reduceOnce[T](v.qs, ReduceSum, Term(v))
}

// MaxOf returns the maximum element of a vector.
func MaxOf[T dtypes.Supported](v *Vector[T]) (T, error) {
	return reduceOnce[T](v.qs, ReduceMax, Term(v))
}

// MinOf returns the minimum element of a vector.
func MinOf[T dtypes.Supported](v *Vector[T]) (T, error) {
	return reduceOnce[T](v.qs, ReduceMin, Term(v))
}

// InnerProduct computes the inner product of two vectors as the sum
// reduction of their elementwise product.
func InnerProduct[T dtypes.Supported](x, y *Vector[T]) (T, error) {
	return reduceOnce[T](x.qs, ReduceSum, Mul(Term(x), Term(y)))
}

func reduceOnce[T dtypes.Supported](qs *QueueSet, op ReduceOp, e *Expr) (T, error) {
	var zero T
	r, err := NewReductor[T](qs, op)
	if err != nil {
		return zero, err
	}
	defer r.Release()
	return r.Apply(e)
}

// hostCombine folds the device partials in device order, with exact integer
// arithmetic for integer element types.
func hostCombine[T dtypes.Supported](op ReduceOp, partials []T) T {
	switch vals := any(partials).(type) {
	case []int32:
		return any(foldNumeric(op, vals)).(T)
	case []int64:
		return any(foldNumeric(op, vals)).(T)
	case []uint32:
		return any(foldNumeric(op, vals)).(T)
	case []uint64:
		return any(foldNumeric(op, vals)).(T)
	case []float32:
		return any(foldNumeric(op, vals)).(T)
	case []float64:
		return any(foldNumeric(op, vals)).(T)
	case []float16.Float16:
		floats := make([]float32, len(vals))
		for i, h := range vals {
			floats[i] = h.Float32()
		}
		return any(float16.Fromfloat32(foldNumeric(op, floats))).(T)
	}
	var zero T
	return zero
}

func foldNumeric[N int32 | int64 | uint32 | uint64 | float32 | float64](op ReduceOp, vals []N) N {
	acc := vals[0]
	for _, v := range vals[1:] {
		switch op {
		case ReduceSum:
			acc += v
		case ReduceProduct:
			acc *= v
		case ReduceMax:
			if v > acc {
				acc = v
			}
		case ReduceMin:
			if v < acc {
				acc = v
			}
		}
	}
	return acc
}
