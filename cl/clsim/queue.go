package clsim

import (
	"sync"

	"github.com/ananori99/vexcl/cl"
	"github.com/pkg/errors"
)

// task is one enqueued operation: queues execute tasks strictly in enqueue
// order, which gives the in-order queue semantics the cl contract requires.
type task struct {
	run func() error
	ev  *event
}

// queue implements cl.Queue with a goroutine draining a task channel.
type queue struct {
	ctx *Context
	dev *device

	mu       sync.Mutex
	tasks    chan *task
	released bool
}

var _ cl.Queue = (*queue)(nil)

func (q *queue) run() {
	for t := range q.tasks {
		t.ev.finish(t.run())
	}
}

func (q *queue) Device() cl.Device { return q.dev }

func (q *queue) enqueue(run func() error) (cl.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, errors.New("clsim: queue already released")
	}
	ev := newEvent()
	q.tasks <- &task{run: run, ev: ev}
	return ev, nil
}

// EnqueueKernel implements cl.Queue. The kernel body is interpreted once per
// work item, sequentially within the queue -- parallelism in the simulator
// comes from devices, not from work items.
func (q *queue) EnqueueKernel(k cl.Kernel, args []cl.Arg, globalSize int) (cl.Event, error) {
	simKernel, ok := k.(*kernel)
	if !ok || simKernel.ctx != q.ctx {
		return nil, errors.New("clsim: kernel was not compiled by this queue's context")
	}
	if globalSize < 0 {
		return nil, errors.Errorf("clsim: negative global work size %d", globalSize)
	}
	return q.enqueue(func() error {
		return simKernel.fn.execute(args, globalSize)
	})
}

// EnqueueRead implements cl.Queue.
func (q *queue) EnqueueRead(b cl.Buffer, offset int, dst []byte) (cl.Event, error) {
	simBuf, err := q.ownBuffer(b)
	if err != nil {
		return nil, err
	}
	return q.enqueue(func() error {
		data, err := simBuf.bytes()
		if err != nil {
			return err
		}
		if offset < 0 || offset+len(dst) > len(data) {
			return errors.Errorf("clsim: read of %d bytes at offset %d out of bounds for buffer of %d bytes", len(dst), offset, len(data))
		}
		copy(dst, data[offset:])
		return nil
	})
}

// EnqueueWrite implements cl.Queue.
func (q *queue) EnqueueWrite(b cl.Buffer, offset int, src []byte) (cl.Event, error) {
	simBuf, err := q.ownBuffer(b)
	if err != nil {
		return nil, err
	}
	return q.enqueue(func() error {
		data, err := simBuf.bytes()
		if err != nil {
			return err
		}
		if offset < 0 || offset+len(src) > len(data) {
			return errors.Errorf("clsim: write of %d bytes at offset %d out of bounds for buffer of %d bytes", len(src), offset, len(data))
		}
		copy(data[offset:], src)
		return nil
	})
}

// EnqueueCopy implements cl.Queue.
func (q *queue) EnqueueCopy(src cl.Buffer, srcOffset int, dst cl.Buffer, dstOffset, n int) (cl.Event, error) {
	simSrc, err := q.ownBuffer(src)
	if err != nil {
		return nil, err
	}
	simDst, err := q.ownBuffer(dst)
	if err != nil {
		return nil, err
	}
	return q.enqueue(func() error {
		srcData, err := simSrc.bytes()
		if err != nil {
			return err
		}
		dstData, err := simDst.bytes()
		if err != nil {
			return err
		}
		if srcOffset < 0 || srcOffset+n > len(srcData) || dstOffset < 0 || dstOffset+n > len(dstData) {
			return errors.Errorf("clsim: copy of %d bytes out of bounds (src %d+%d of %d, dst %d+%d of %d)",
				n, srcOffset, n, len(srcData), dstOffset, n, len(dstData))
		}
		copy(dstData[dstOffset:dstOffset+n], srcData[srcOffset:])
		return nil
	})
}

// Finish implements cl.Queue.
func (q *queue) Finish() error {
	ev, err := q.enqueue(func() error { return nil })
	if err != nil {
		return err
	}
	return ev.Wait()
}

// Release implements cl.Queue.
func (q *queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil
	}
	q.released = true
	close(q.tasks)
	return nil
}

func (q *queue) ownBuffer(b cl.Buffer) (*buffer, error) {
	simBuf, ok := b.(*buffer)
	if !ok || simBuf.ctx != q.ctx {
		return nil, errors.New("clsim: buffer was not allocated by this queue's context")
	}
	return simBuf, nil
}

// event implements cl.Event.
type event struct {
	done chan struct{}
	err  error
}

var _ cl.Event = (*event)(nil)

func newEvent() *event {
	return &event{done: make(chan struct{})}
}

func (ev *event) finish(err error) {
	ev.err = err
	close(ev.done)
}

// Wait implements cl.Event.
func (ev *event) Wait() error {
	<-ev.done
	return ev.err
}
