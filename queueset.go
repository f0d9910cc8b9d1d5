package vexcl

import (
	"github.com/ananori99/vexcl/cl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// QueueSet is an ordered collection of per-device command queues. Its order
// defines the partition order of every distributed vector and sparse matrix
// built against it.
//
// Selected devices are grouped by platform, with one context per platform
// group, so a selection spanning vendors never forces incompatible devices
// into one context. Mixing vendors is legal; the computation then runs at
// the speed of the slowest device.
type QueueSet struct {
	driver   cl.Driver
	devices  []cl.Device
	queues   []cl.Queue
	ctxIndex []int // device position -> index into contexts
	contexts []cl.Context
	caches   []*kernelCache // parallel to contexts
}

// NewQueueSet selects devices with the filter and builds one in-order queue
// per device. Selecting zero devices is not an error here either -- the
// returned QueueSet is empty, and constructing distributed objects over it
// fails.
func NewQueueSet(driver cl.Driver, filter Filter) (*QueueSet, error) {
	devices, err := Devices(driver, filter)
	if err != nil {
		return nil, err
	}
	qs := &QueueSet{driver: driver, devices: devices}

	// One context per platform group, in order of first appearance.
	ctxForPlatform := make(map[string]int)
	groups := make(map[string][]cl.Device)
	var platformOrder []string
	for _, d := range devices {
		platform := d.PlatformName()
		if _, seen := groups[platform]; !seen {
			platformOrder = append(platformOrder, platform)
		}
		groups[platform] = append(groups[platform], d)
	}
	for _, platform := range platformOrder {
		ctx, err := driver.NewContext(groups[platform])
		if err != nil {
			qs.Release()
			return nil, errors.WithMessagef(err, "creating context for platform %q", platform)
		}
		ctxForPlatform[platform] = len(qs.contexts)
		qs.contexts = append(qs.contexts, ctx)
		qs.caches = append(qs.caches, newKernelCache(ctx))
	}
	for _, d := range devices {
		ctxIdx := ctxForPlatform[d.PlatformName()]
		q, err := qs.contexts[ctxIdx].NewQueue(d)
		if err != nil {
			qs.Release()
			return nil, errors.WithMessagef(err, "creating queue for device %q", d.Name())
		}
		qs.queues = append(qs.queues, q)
		qs.ctxIndex = append(qs.ctxIndex, ctxIdx)
	}
	return qs, nil
}

// NumDevices returns the number of devices (and queues) in the set.
func (qs *QueueSet) NumDevices() int { return len(qs.devices) }

// Device returns the i-th device, in partition order.
func (qs *QueueSet) Device(i int) cl.Device { return qs.devices[i] }

// Queue returns the i-th device's command queue.
func (qs *QueueSet) Queue(i int) cl.Queue { return qs.queues[i] }

// Context returns the context owning the i-th device.
func (qs *QueueSet) Context(i int) cl.Context { return qs.contexts[qs.ctxIndex[i]] }

// Contexts returns the distinct contexts of the set, one per platform group.
func (qs *QueueSet) Contexts() []cl.Context { return qs.contexts }

// cacheFor returns the kernel cache of the context owning device i.
func (qs *QueueSet) cacheFor(i int) *kernelCache { return qs.caches[qs.ctxIndex[i]] }

// Release tears down the queues, the per-context kernel caches and the
// contexts. Distributed objects built over the set become invalid.
func (qs *QueueSet) Release() {
	for _, q := range qs.queues {
		if err := q.Release(); err != nil {
			klog.Errorf("vexcl: releasing queue for device %q: %v", q.Device().Name(), err)
		}
	}
	qs.queues = nil
	qs.caches = nil
	for _, ctx := range qs.contexts {
		if err := ctx.Release(); err != nil {
			klog.Errorf("vexcl: releasing context %s: %v", ctx.ID(), err)
		}
	}
	qs.contexts = nil
	qs.devices = nil
	qs.ctxIndex = nil
}
