package cl

// AccessMode is a hint on how a buffer will be accessed by kernels.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

// Context owns device memory and compiled kernels for a group of devices of
// one platform.
type Context interface {
	// ID uniquely identifies the context for the lifetime of the process.
	// Kernel caches are keyed by it.
	ID() string

	// Devices returns the devices covered by the context, in creation order.
	Devices() []Device

	// AllocBuffer allocates a device memory buffer of size bytes.
	AllocBuffer(size int, mode AccessMode) (Buffer, error)

	// CompileKernel compiles OpenCL C source and returns the kernel with the
	// given entry-point name. Failures return a *CompileError.
	CompileKernel(source, kernelName string) (Kernel, error)

	// NewQueue creates an in-order command queue bound to the given device,
	// which must be one of Devices.
	NewQueue(device Device) (Queue, error)

	// Release frees all resources owned by the context. The context and
	// every buffer, kernel and queue created from it become invalid.
	Release() error
}

// Buffer is a device memory allocation owned by one context.
type Buffer interface {
	// Size in bytes.
	Size() int

	// Release frees the buffer.
	Release() error
}

// Kernel is a compiled kernel handle, valid for the compiling context.
type Kernel interface {
	// Name of the kernel entry point.
	Name() string
}

// Arg is one kernel argument: either a device buffer or a scalar passed by
// value. Exactly one of the fields is used.
type Arg struct {
	Buffer Buffer
	Value  any
}

// BufferArg wraps a buffer as a kernel argument.
func BufferArg(b Buffer) Arg { return Arg{Buffer: b} }

// ValueArg wraps a scalar as a pass-by-value kernel argument.
func ValueArg(v any) Arg { return Arg{Value: v} }

// Queue is an in-order command queue bound to one device: operations execute
// in the order enqueued, asynchronously with respect to the host and to
// other queues.
type Queue interface {
	// Device the queue is bound to.
	Device() Device

	// EnqueueKernel launches a compiled kernel with the given arguments and
	// a 1-D global work size.
	EnqueueKernel(k Kernel, args []Arg, globalSize int) (Event, error)

	// EnqueueRead copies buffer bytes [offset, offset+len(dst)) to host
	// memory.
	EnqueueRead(b Buffer, offset int, dst []byte) (Event, error)

	// EnqueueWrite copies host memory to buffer bytes
	// [offset, offset+len(src)).
	EnqueueWrite(b Buffer, offset int, src []byte) (Event, error)

	// EnqueueCopy copies n bytes between two buffers of the same context.
	EnqueueCopy(src Buffer, srcOffset int, dst Buffer, dstOffset, n int) (Event, error)

	// Finish blocks until every previously enqueued operation completed.
	Finish() error

	// Release frees the queue. Pending operations still run to completion.
	Release() error
}

// Event tracks one asynchronously enqueued operation.
type Event interface {
	// Wait blocks until the operation completed and returns its error, if
	// any.
	Wait() error
}

// WaitAll waits on all given events and returns the first error encountered,
// in event order. It always waits on every event, even after an error, so no
// operation is left in flight.
func WaitAll(events ...Event) error {
	var firstErr error
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if err := ev.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
