package vexcl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ananori99/vexcl/cl/clsim"
)

// testQueueSet builds a queue set over n simulated devices sharing one
// platform, so they share one context and one kernel cache.
func testQueueSet(t *testing.T, n int) *QueueSet {
	specs := make([]clsim.DeviceSpec, n)
	qs, err := NewQueueSet(clsim.NewDriver(specs...), Any())
	require.NoError(t, err)
	require.Equal(t, n, qs.NumDevices())
	t.Cleanup(qs.Release)
	return qs
}

// testQueueSetSplit builds a queue set over n simulated devices on n
// distinct platforms, forcing one context per device.
func testQueueSetSplit(t *testing.T, n int) *QueueSet {
	specs := make([]clsim.DeviceSpec, n)
	for i := range specs {
		specs[i].Platform = "SimCo Platform " + string(rune('A'+i))
	}
	qs, err := NewQueueSet(clsim.NewDriver(specs...), Any())
	require.NoError(t, err)
	require.Equal(t, n, qs.NumDevices())
	require.Len(t, qs.Contexts(), n)
	t.Cleanup(qs.Release)
	return qs
}

// compileCount sums kernel compilations over all contexts of the set.
func compileCount(t *testing.T, qs *QueueSet) int {
	total := 0
	for _, ctx := range qs.Contexts() {
		sim, ok := ctx.(*clsim.Context)
		require.True(t, ok)
		total += sim.CompileCount()
	}
	return total
}

// deviceCounts is the grid of queue set sizes most tests sweep: a single
// device, the even split, and a count that leaves a remainder.
var deviceCounts = []int{1, 2, 5}
