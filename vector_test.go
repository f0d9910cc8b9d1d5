package vexcl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/dtypes"
)

func TestVectorRoundTrip(t *testing.T) {
	for _, n := range deviceCounts {
		t.Run(fmt.Sprintf("devices=%d", n), func(t *testing.T) {
			qs := testQueueSet(t, n)
			data := make([]float64, 1000)
			for i := range data {
				data[i] = float64(i) * 0.5
			}
			v, err := FromHost(qs, data)
			require.NoError(t, err)
			defer v.Release()
			require.Equal(t, len(data), v.Size())

			got, err := v.Read()
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestVectorRoundTripInt64(t *testing.T) {
	qs := testQueueSet(t, 2)
	data := []int64{1, -2, 3, -4, 1 << 40, -(1 << 50), 7}
	v, err := FromHost(qs, data)
	require.NoError(t, err)
	defer v.Release()
	got, err := v.Read()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVectorCopyHelpers(t *testing.T) {
	qs := testQueueSet(t, 2)
	v, err := New[float64](qs, 8)
	require.NoError(t, err)
	defer v.Release()

	src := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	require.NoError(t, CopyFromHost(v, src))

	dst := make([]float64, 8)
	require.NoError(t, CopyToHost(dst, v))
	assert.Equal(t, src, dst)

	err = CopyToHost(make([]float64, 5), v)
	assert.ErrorContains(t, err, "5 elements")
	err = CopyFromHost(v, make([]float64, 3))
	assert.Error(t, err)
}

func TestVectorFloat16(t *testing.T) {
	qs := testQueueSet(t, 2)
	data := make([]float16.Float16, 6)
	for i := range data {
		data[i] = float16.Fromfloat32(float32(i) + 0.5)
	}
	v, err := FromHost(qs, data)
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, v.Assign(Add(Term(v), Term(v))))
	got, err := v.Read()
	require.NoError(t, err)
	for i := range got {
		// Half arithmetic runs in single precision and rounds on store.
		want := float16.Fromfloat32(data[i].Float32() + data[i].Float32())
		assert.Equal(t, want, got[i])
	}
}

func TestVectorPartitioning(t *testing.T) {
	qs := testQueueSet(t, 3)
	v, err := New[float32](qs, 10)
	require.NoError(t, err)
	defer v.Release()

	// 10 elements over 3 devices: the remainder goes to the first parts.
	assert.Equal(t, 4, v.PartSize(0))
	assert.Equal(t, 3, v.PartSize(1))
	assert.Equal(t, 3, v.PartSize(2))
}

func TestVectorSmallerThanDevices(t *testing.T) {
	qs := testQueueSet(t, 5)
	data := []int32{10, 20, 30}
	v, err := FromHost(qs, data)
	require.NoError(t, err)
	defer v.Release()

	// Two devices hold empty partitions; reads and arithmetic still work.
	assert.Equal(t, 0, v.PartSize(3))
	got, err := v.Read()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, v.Assign(Add(Term(v), Const[int32](1))))
	got, err = v.Read()
	require.NoError(t, err)
	assert.Equal(t, []int32{11, 21, 31}, got)
}

func TestVectorAtSetAt(t *testing.T) {
	qs := testQueueSet(t, 3)
	v, err := FromHost(qs, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)
	defer v.Release()

	for _, i := range []int{0, 3, 4, 6, 9} { // spans all three partitions
		got, err := v.At(i)
		require.NoError(t, err)
		assert.Equal(t, float64(i), got)
	}

	require.NoError(t, v.SetAt(7, 70))
	got, err := v.At(7)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got)

	_, err = v.At(10)
	require.Error(t, err)
	require.Error(t, v.SetAt(-1, 0))
}

func TestVectorCopyFromSizeMismatch(t *testing.T) {
	qs := testQueueSet(t, 2)
	v, err := New[float64](qs, 4)
	require.NoError(t, err)
	defer v.Release()
	require.Error(t, v.CopyFrom([]float64{1, 2, 3}))
}

func TestVectorNegativeSize(t *testing.T) {
	qs := testQueueSet(t, 1)
	_, err := New[float64](qs, -1)
	require.Error(t, err)
}

// Raw buffers stay reachable for custom kernels alongside the expression
// engine: compile a hand-written kernel and launch it on each partition.
func TestVectorUploadErrorWaitsInFlight(t *testing.T) {
	// A failing enqueue on a later device must not return while earlier
	// devices still read the host slice.
	qs := testQueueSet(t, 3)
	v, err := New[float64](qs, 9)
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, qs.Queue(2).Release())
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	err = v.CopyFrom(data)
	require.ErrorContains(t, err, "uploading partition 2")

	// The first two partitions were enqueued before the failure and must
	// have landed by the time CopyFrom returned.
	for d := 0; d < 2; d++ {
		got := make([]float64, v.PartSize(d))
		ev, err := qs.Queue(d).EnqueueRead(v.Buffer(d), 0, dtypes.ToBytes(got))
		require.NoError(t, err)
		require.NoError(t, ev.Wait())
		begin := 3 * d
		assert.Equal(t, data[begin:begin+3], got)
	}
}

func TestVectorCustomKernel(t *testing.T) {
	const source = `
kernel void dummy(ulong n, global float *x)
{
    ulong i = get_global_id(0);
    if (i < n) {
        x[i] = 4.2f;
    }
}
`
	qs := testQueueSet(t, 2)
	v, err := New[float32](qs, 7)
	require.NoError(t, err)
	defer v.Release()

	for d := 0; d < qs.NumDevices(); d++ {
		kernel, err := qs.Context(d).CompileKernel(source, "dummy")
		require.NoError(t, err)
		args := []cl.Arg{cl.ValueArg(uint64(v.PartSize(d))), cl.BufferArg(v.Buffer(d))}
		ev, err := qs.Queue(d).EnqueueKernel(kernel, args, v.PartSize(d))
		require.NoError(t, err)
		require.NoError(t, ev.Wait())
	}

	got, err := v.Read()
	require.NoError(t, err)
	for _, x := range got {
		assert.Equal(t, float32(4.2), x)
	}
}
