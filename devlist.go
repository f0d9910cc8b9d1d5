package vexcl

import (
	"strings"

	"github.com/ananori99/vexcl/cl"
	"k8s.io/klog/v2"
)

// Filter is a predicate over compute devices. Filters compose with And, Or
// and Not into new filters; Devices and NewQueueSet apply them to the
// driver's device list in discovery order.
type Filter interface {
	// Match reports whether the device passes the filter.
	Match(d cl.Device) bool
}

// funcFilter adapts a plain predicate function to the Filter interface.
type funcFilter func(d cl.Device) bool

func (f funcFilter) Match(d cl.Device) bool { return f(d) }

// Any matches every device.
func Any() Filter {
	return funcFilter(func(cl.Device) bool { return true })
}

// Name matches devices whose name contains the given substring.
func Name(substr string) Filter {
	return funcFilter(func(d cl.Device) bool { return strings.Contains(d.Name(), substr) })
}

// Vendor matches devices whose vendor contains the given substring.
func Vendor(substr string) Filter {
	return funcFilter(func(d cl.Device) bool { return strings.Contains(d.Vendor(), substr) })
}

// Platform matches devices whose platform name contains the given substring.
func Platform(substr string) Filter {
	return funcFilter(func(d cl.Device) bool { return strings.Contains(d.PlatformName(), substr) })
}

// Type matches devices of the given type. DeviceTypeAll matches every
// device.
func Type(t cl.DeviceType) Filter {
	return funcFilter(func(d cl.Device) bool {
		return t == cl.DeviceTypeAll || d.Type() == t
	})
}

// DoublePrecision matches devices supporting 64-bit floating point.
func DoublePrecision() Filter {
	return funcFilter(func(d cl.Device) bool { return d.DoublePrecision() })
}

// MemoryAtLeast matches devices with at least the given global memory, in
// bytes.
func MemoryAtLeast(bytes uint64) Filter {
	return funcFilter(func(d cl.Device) bool { return d.GlobalMemory() >= bytes })
}

type andFilter struct{ filters []Filter }

func (f *andFilter) Match(d cl.Device) bool {
	for _, sub := range f.filters {
		if !sub.Match(d) {
			return false
		}
	}
	return true
}

// And matches devices that pass every given filter. Evaluation is
// left-to-right and short-circuits, so a Count filter placed last only
// counts devices that passed the rest.
func And(filters ...Filter) Filter {
	return &andFilter{filters: filters}
}

type orFilter struct{ filters []Filter }

func (f *orFilter) Match(d cl.Device) bool {
	for _, sub := range f.filters {
		if sub.Match(d) {
			return true
		}
	}
	return false
}

// Or matches devices that pass at least one of the given filters.
func Or(filters ...Filter) Filter {
	return &orFilter{filters: filters}
}

type notFilter struct{ filter Filter }

func (f *notFilter) Match(d cl.Device) bool { return !f.filter.Match(d) }

// Not inverts a filter.
func Not(filter Filter) Filter {
	return &notFilter{filter: filter}
}

// countFilter matches the first k devices it is asked about. Its quota is
// scoped to one selection call: Devices and NewQueueSet reset it before
// enumerating.
type countFilter struct {
	limit     int
	remaining int
}

func (f *countFilter) Match(cl.Device) bool {
	if f.remaining <= 0 {
		return false
	}
	f.remaining--
	return true
}

func (f *countFilter) reset() { f.remaining = f.limit }

// Count matches at most k devices. Combine it as the last operand of an And
// so only devices passing the other filters consume the quota.
func Count(k int) Filter {
	return &countFilter{limit: k, remaining: k}
}

// resetCounters recursively resets Count quotas inside a filter tree.
func resetCounters(f Filter) {
	switch filter := f.(type) {
	case *countFilter:
		filter.reset()
	case *andFilter:
		for _, sub := range filter.filters {
			resetCounters(sub)
		}
	case *orFilter:
		for _, sub := range filter.filters {
			resetCounters(sub)
		}
	case *notFilter:
		resetCounters(filter.filter)
	}
}

// Devices enumerates the driver's devices and returns those matching the
// filter, preserving discovery order. A selection matching no device returns
// an empty list, not an error.
func Devices(driver cl.Driver, filter Filter) ([]cl.Device, error) {
	all, err := driver.Devices()
	if err != nil {
		return nil, err
	}
	resetCounters(filter)
	var selected []cl.Device
	for _, d := range all {
		if filter.Match(d) {
			selected = append(selected, d)
		}
	}
	klog.V(1).Infof("vexcl: selected %d of %d device(s) from driver %q", len(selected), len(all), driver.Name())
	return selected, nil
}
