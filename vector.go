package vexcl

import (
	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Vector is a logical 1-D array of length Size partitioned across the
// devices of a QueueSet: each device owns one contiguous slice, backed by
// its own device buffer. The concatenation of the per-device buffers, in
// device order, is always the logical array.
type Vector[T dtypes.Supported] struct {
	qs    *QueueSet
	dt    dtypes.DType
	size  int
	mode  cl.AccessMode
	parts []Range
	bufs  []cl.Buffer
}

// New creates a distributed vector of the given logical size. The optional
// access mode (default cl.ReadWrite) is a hint forwarded to buffer
// allocation. Device contents start unspecified; assign or copy into it
// before reading.
func New[T dtypes.Supported](qs *QueueSet, size int, mode ...cl.AccessMode) (*Vector[T], error) {
	if qs == nil || qs.NumDevices() == 0 {
		return nil, errors.New("vexcl: cannot create a vector over an empty queue set")
	}
	if size < 0 {
		return nil, errors.Errorf("vexcl: invalid vector size %d", size)
	}
	v := &Vector[T]{
		qs:   qs,
		dt:   dtypes.FromGenericsType[T](),
		size: size,
		mode: cl.ReadWrite,
	}
	if len(mode) > 0 {
		v.mode = mode[0]
	}
	v.parts = partition(size, qs.NumDevices())
	v.bufs = make([]cl.Buffer, qs.NumDevices())
	for d := range v.bufs {
		buf, err := qs.Context(d).AllocBuffer(v.parts[d].Size()*v.dt.Size(), v.mode)
		if err != nil {
			v.Release()
			return nil, errors.WithMessagef(err, "allocating partition %d (device %q)", d, qs.Device(d).Name())
		}
		v.bufs[d] = buf
	}
	return v, nil
}

// FromHost creates a distributed vector initialized with host data.
func FromHost[T dtypes.Supported](qs *QueueSet, data []T, mode ...cl.AccessMode) (*Vector[T], error) {
	v, err := New[T](qs, len(data), mode...)
	if err != nil {
		return nil, err
	}
	if err := v.CopyFrom(data); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

// Size returns the logical length of the vector.
func (v *Vector[T]) Size() int { return v.size }

// DType returns the element type.
func (v *Vector[T]) DType() dtypes.DType { return v.dt }

// QueueSet returns the queue set the vector is partitioned over.
func (v *Vector[T]) QueueSet() *QueueSet { return v.qs }

// Buffer returns the raw device buffer holding partition d, for binding
// against custom kernels.
func (v *Vector[T]) Buffer(d int) cl.Buffer { return v.bufs[d] }

// PartSize returns the number of elements of partition d.
func (v *Vector[T]) PartSize(d int) int { return v.parts[d].Size() }

// leafVector implementation, shared with the expression engine.
func (v *Vector[T]) queueSet() *QueueSet    { return v.qs }
func (v *Vector[T]) dtype() dtypes.DType    { return v.dt }
func (v *Vector[T]) length() int            { return v.size }
func (v *Vector[T]) buffer(d int) cl.Buffer { return v.bufs[d] }
func (v *Vector[T]) partRange(d int) Range  { return v.parts[d] }

// CopyFrom uploads host data, which must match the vector's size, into the
// device partitions.
func (v *Vector[T]) CopyFrom(data []T) error {
	if len(data) != v.size {
		return errors.Errorf("vexcl: host data has %d elements, vector has %d", len(data), v.size)
	}
	events := make([]cl.Event, 0, len(v.bufs))
	for d, buf := range v.bufs {
		part := v.parts[d]
		if part.Size() == 0 {
			continue
		}
		ev, err := v.qs.Queue(d).EnqueueWrite(buf, 0, dtypes.ToBytes(data[part.Begin:part.End]))
		if err != nil {
			drain(events)
			return errors.WithMessagef(err, "uploading partition %d", d)
		}
		events = append(events, ev)
	}
	return cl.WaitAll(events...)
}

// Read copies the whole vector back to a freshly allocated host slice.
func (v *Vector[T]) Read() ([]T, error) {
	data := make([]T, v.size)
	if err := v.readInto(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *Vector[T]) readInto(data []T) error {
	events := make([]cl.Event, 0, len(v.bufs))
	for d, buf := range v.bufs {
		part := v.parts[d]
		if part.Size() == 0 {
			continue
		}
		ev, err := v.qs.Queue(d).EnqueueRead(buf, 0, dtypes.ToBytes(data[part.Begin:part.End]))
		if err != nil {
			drain(events)
			return errors.WithMessagef(err, "reading partition %d", d)
		}
		events = append(events, ev)
	}
	return cl.WaitAll(events...)
}

// CopyToHost copies the whole vector into dst, which must have the vector's
// logical size.
func CopyToHost[T dtypes.Supported](dst []T, v *Vector[T]) error {
	if len(dst) != v.size {
		return errors.Errorf("vexcl: destination has %d elements, vector has %d", len(dst), v.size)
	}
	return v.readInto(dst)
}

// CopyFromHost uploads src into the vector. It is the inverse of CopyToHost.
func CopyFromHost[T dtypes.Supported](v *Vector[T], src []T) error {
	return v.CopyFrom(src)
}

// At reads one logical element. Correct but slow -- it performs a
// single-element device transfer -- so it is meant for debugging and tests,
// not for bulk access.
func (v *Vector[T]) At(i int) (T, error) {
	var zero T
	d := partOwner(v.parts, i)
	if d < 0 {
		return zero, errors.Errorf("vexcl: index %d out of range for vector of size %d", i, v.size)
	}
	elem := make([]T, 1)
	ev, err := v.qs.Queue(d).EnqueueRead(v.bufs[d], (i-v.parts[d].Begin)*v.dt.Size(), dtypes.ToBytes(elem))
	if err != nil {
		return zero, err
	}
	if err := ev.Wait(); err != nil {
		return zero, err
	}
	return elem[0], nil
}

// SetAt writes one logical element. Slow path, like At.
func (v *Vector[T]) SetAt(i int, val T) error {
	d := partOwner(v.parts, i)
	if d < 0 {
		return errors.Errorf("vexcl: index %d out of range for vector of size %d", i, v.size)
	}
	elem := []T{val}
	ev, err := v.qs.Queue(d).EnqueueWrite(v.bufs[d], (i-v.parts[d].Begin)*v.dt.Size(), dtypes.ToBytes(elem))
	if err != nil {
		return err
	}
	return ev.Wait()
}

// Assign evaluates the expression elementwise into this vector. The
// expression may reference the target itself (x = x + y is legal: each
// device only touches its own partitions, so there is no cross-device
// hazard). All vectors involved must share this vector's queue set.
func (v *Vector[T]) Assign(e *Expr) error {
	return evaluate(v, e)
}

// Release frees the per-device buffers. The vector is invalid afterwards.
func (v *Vector[T]) Release() {
	for d, buf := range v.bufs {
		if buf == nil {
			continue
		}
		if err := buf.Release(); err != nil {
			klog.Errorf("vexcl: releasing partition %d buffer: %v", d, err)
		}
		v.bufs[d] = nil
	}
}
