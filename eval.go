package vexcl

import (
	"github.com/ananori99/vexcl/cl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// drain blocks on already-enqueued work before an error return, so a caller
// cannot release buffers some device is still reading or writing.
func drain(events []cl.Event) {
	if err := cl.WaitAll(events...); err != nil {
		klog.Errorf("vexcl: waiting out in-flight work after an enqueue error: %v", err)
	}
}

// evaluate runs the elementwise evaluation path: signature, per-context
// kernel lookup (compiling on first use), then one independent launch per
// device sized to its partition. There is no ordering between devices; the
// call blocks until every launch completed and returns the first error
// without downgrading to a partial result.
func evaluate(target leafVector, e *Expr) error {
	qs := target.queueSet()
	if qs == nil || qs.NumDevices() == 0 {
		return errors.New("vexcl: cannot evaluate into a vector over an empty queue set")
	}
	if e.dt != target.dtype() {
		return errors.Errorf("vexcl: cannot assign %s expression to %s vector", e.dt, target.dtype())
	}
	slots := collectSlots(e)
	if err := checkOperands(qs, target, slots); err != nil {
		return err
	}

	sig := signatureOf(e, target.dtype())
	name := kernelName("ew", sig)

	events := make([]cl.Event, 0, qs.NumDevices())
	for d := 0; d < qs.NumDevices(); d++ {
		kernel, err := qs.cacheFor(d).get(sig, func() (string, string) {
			return renderElementwise(e, target.dtype(), slots, name), name
		})
		if err != nil {
			drain(events)
			return err
		}
		partLen := target.partRange(d).Size()
		if partLen == 0 {
			continue
		}
		args := make([]cl.Arg, 0, len(slots)+2)
		args = append(args, cl.ValueArg(uint64(partLen)), cl.BufferArg(target.buffer(d)))
		args = appendSlotArgs(args, slots, d)
		ev, err := qs.Queue(d).EnqueueKernel(kernel, args, partLen)
		if err != nil {
			drain(events)
			return errors.WithMessagef(err, "launching on device %q", qs.Device(d).Name())
		}
		events = append(events, ev)
	}
	return cl.WaitAll(events...)
}

// checkOperands validates that every vector referenced by the expression
// shares the target's queue set and logical size. Mismatches are contract
// violations reported as errors, never papered over.
func checkOperands(qs *QueueSet, target leafVector, slots []paramSlot) error {
	for _, slot := range slots {
		if slot.leaf == nil {
			continue
		}
		if slot.leaf.queueSet() != qs {
			return errors.New("vexcl: all vectors of one expression must be built over the same queue set")
		}
		if slot.leaf.length() != target.length() {
			return errors.Errorf("vexcl: operand size %d does not match target size %d", slot.leaf.length(), target.length())
		}
	}
	return nil
}

// appendSlotArgs binds the expression's parameters for device d, in the
// traversal order the generated source declared them.
func appendSlotArgs(args []cl.Arg, slots []paramSlot, d int) []cl.Arg {
	for _, slot := range slots {
		if slot.leaf != nil {
			args = append(args, cl.BufferArg(slot.leaf.buffer(d)))
		} else {
			args = append(args, cl.ValueArg(slot.scalar))
		}
	}
	return args
}
