package vexcl

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostCSR is the reference product the device results are checked against.
func hostCSR(rows int, rowOffsets, colIndices []uint64, values, x []float64) []float64 {
	y := make([]float64, rows)
	for r := 0; r < rows; r++ {
		for i := rowOffsets[r]; i < rowOffsets[r+1]; i++ {
			y[r] += values[i] * x[colIndices[i]]
		}
	}
	return y
}

func identityCSR(n int) (rowOffsets, colIndices []uint64, values []float64) {
	rowOffsets = make([]uint64, n+1)
	colIndices = make([]uint64, n)
	values = make([]float64, n)
	for i := 0; i < n; i++ {
		rowOffsets[i+1] = uint64(i + 1)
		colIndices[i] = uint64(i)
		values[i] = 1
	}
	return
}

func tridiagCSR(n int) (rowOffsets, colIndices []uint64, values []float64) {
	rowOffsets = make([]uint64, 1, n+1)
	for i := 0; i < n; i++ {
		if i > 0 {
			colIndices = append(colIndices, uint64(i-1))
			values = append(values, -1)
		}
		colIndices = append(colIndices, uint64(i))
		values = append(values, 2)
		if i < n-1 {
			colIndices = append(colIndices, uint64(i+1))
			values = append(values, -1)
		}
		rowOffsets = append(rowOffsets, uint64(len(colIndices)))
	}
	return
}

func TestSpMatIdentity(t *testing.T) {
	qs := testQueueSet(t, 2)
	rowOffsets, colIndices, values := identityCSR(4)
	a, err := NewSpMat(qs, 4, 4, rowOffsets, colIndices, values)
	require.NoError(t, err)
	defer a.Release()

	xs := []float64{1.5, -2, 3, 4.25}
	x, err := FromHost(qs, xs)
	require.NoError(t, err)
	defer x.Release()

	y, err := a.Mul(x)
	require.NoError(t, err)
	defer y.Release()
	got, err := y.Read()
	require.NoError(t, err)
	assert.Equal(t, xs, got)
}

func TestSpMatTridiagonal(t *testing.T) {
	for _, n := range deviceCounts {
		t.Run(fmt.Sprintf("devices=%d", n), func(t *testing.T) {
			qs := testQueueSet(t, n)
			const size = 100
			rowOffsets, colIndices, values := tridiagCSR(size)
			a, err := NewSpMat(qs, size, size, rowOffsets, colIndices, values)
			require.NoError(t, err)
			defer a.Release()

			xs := make([]float64, size)
			for i := range xs {
				xs[i] = float64(i%7) + 0.5
			}
			x, err := FromHost(qs, xs)
			require.NoError(t, err)
			defer x.Release()

			y, err := a.Mul(x)
			require.NoError(t, err)
			defer y.Release()
			got, err := y.Read()
			require.NoError(t, err)
			assert.Equal(t, hostCSR(size, rowOffsets, colIndices, values, xs), got)
		})
	}
}

// A dense random band exercises remote runs spanning several owners and
// fetch plans with multiple disjoint runs per device.
func TestSpMatRandomBand(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("devices=%d", n), func(t *testing.T) {
			qs := testQueueSet(t, n)
			const size = 60
			rng := rand.New(rand.NewSource(7))

			rowOffsets := make([]uint64, 1, size+1)
			var colIndices []uint64
			var values []float64
			for r := 0; r < size; r++ {
				for c := 0; c < size; c++ {
					d := r - c
					if d < 0 {
						d = -d
					}
					if d > 12 || rng.Intn(3) == 0 {
						continue
					}
					colIndices = append(colIndices, uint64(c))
					values = append(values, rng.NormFloat64())
				}
				rowOffsets = append(rowOffsets, uint64(len(colIndices)))
			}

			a, err := NewSpMat(qs, size, size, rowOffsets, colIndices, values)
			require.NoError(t, err)
			defer a.Release()

			xs := make([]float64, size)
			for i := range xs {
				xs[i] = rng.NormFloat64()
			}
			x, err := FromHost(qs, xs)
			require.NoError(t, err)
			defer x.Release()

			y, err := a.Mul(x)
			require.NoError(t, err)
			defer y.Release()
			got, err := y.Read()
			require.NoError(t, err)
			want := hostCSR(size, rowOffsets, colIndices, values, xs)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-12)
			}
		})
	}
}

// Devices on distinct platforms cannot share a context, so every remote
// run goes through host staging instead of a device copy.
func TestSpMatAcrossContexts(t *testing.T) {
	qs := testQueueSetSplit(t, 3)
	const size = 30
	rowOffsets, colIndices, values := tridiagCSR(size)
	a, err := NewSpMat(qs, size, size, rowOffsets, colIndices, values)
	require.NoError(t, err)
	defer a.Release()

	xs := make([]float64, size)
	for i := range xs {
		xs[i] = float64(i)
	}
	x, err := FromHost(qs, xs)
	require.NoError(t, err)
	defer x.Release()

	y, err := a.Mul(x)
	require.NoError(t, err)
	defer y.Release()
	got, err := y.Read()
	require.NoError(t, err)
	assert.Equal(t, hostCSR(size, rowOffsets, colIndices, values, xs), got)
}

func TestSpMatRepeatedProductsReuseKernel(t *testing.T) {
	qs := testQueueSet(t, 2)
	rowOffsets, colIndices, values := tridiagCSR(16)
	a, err := NewSpMat(qs, 16, 16, rowOffsets, colIndices, values)
	require.NoError(t, err)
	defer a.Release()

	x, err := FromHost(qs, make([]float64, 16))
	require.NoError(t, err)
	defer x.Release()
	y, err := New[float64](qs, 16)
	require.NoError(t, err)
	defer y.Release()

	require.NoError(t, a.MulInto(x, y))
	before := compileCount(t, qs)
	require.NoError(t, a.MulInto(x, y))
	require.NoError(t, a.MulInto(x, y))
	assert.Equal(t, before, compileCount(t, qs))
}

func TestSpMatRectangular(t *testing.T) {
	qs := testQueueSet(t, 2)
	// 2x3 matrix: [1 2 0; 0 3 4]
	a, err := NewSpMat(qs, 2, 3,
		[]uint64{0, 2, 4},
		[]uint64{0, 1, 1, 2},
		[]float64{1, 2, 3, 4})
	require.NoError(t, err)
	defer a.Release()

	x, err := FromHost(qs, []float64{1, 10, 100})
	require.NoError(t, err)
	defer x.Release()
	y, err := a.Mul(x)
	require.NoError(t, err)
	defer y.Release()
	got, err := y.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 430}, got)
}

func TestSpMatValidation(t *testing.T) {
	qs := testQueueSet(t, 2)

	// Offsets must start at zero.
	_, err := NewSpMat(qs, 2, 2, []uint64{1, 1, 2}, []uint64{0, 1}, []float64{1, 2})
	require.Error(t, err)

	// Offsets must be non-decreasing.
	_, err = NewSpMat(qs, 2, 2, []uint64{0, 2, 1}, []uint64{0, 1}, []float64{1, 2})
	require.Error(t, err)

	// Offset count must be rows+1.
	_, err = NewSpMat(qs, 2, 2, []uint64{0, 2}, []uint64{0, 1}, []float64{1, 2})
	require.Error(t, err)

	// Column index out of range.
	_, err = NewSpMat(qs, 2, 2, []uint64{0, 1, 2}, []uint64{0, 2}, []float64{1, 2})
	require.ErrorContains(t, err, "out of range")

	// Value count must match the final offset.
	_, err = NewSpMat(qs, 2, 2, []uint64{0, 1, 2}, []uint64{0, 1}, []float64{1})
	require.Error(t, err)
}

func TestSpMatDimensionMismatch(t *testing.T) {
	qs := testQueueSet(t, 2)
	rowOffsets, colIndices, values := identityCSR(4)
	a, err := NewSpMat(qs, 4, 4, rowOffsets, colIndices, values)
	require.NoError(t, err)
	defer a.Release()

	short, err := New[float64](qs, 3)
	require.NoError(t, err)
	defer short.Release()
	ok, err := New[float64](qs, 4)
	require.NoError(t, err)
	defer ok.Release()

	require.Error(t, a.MulInto(short, ok))
	require.Error(t, a.MulInto(ok, short))

	other := testQueueSet(t, 2)
	foreign, err := New[float64](other, 4)
	require.NoError(t, err)
	defer foreign.Release()
	require.Error(t, a.MulInto(foreign, ok))
}
