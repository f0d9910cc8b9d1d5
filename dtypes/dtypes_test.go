package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestDTypeProperties(t *testing.T) {
	cases := []struct {
		dt      DType
		clType  string
		size    int
		isFloat bool
	}{
		{Bool, "char", 1, false},
		{Int32, "int", 4, false},
		{Int64, "long", 8, false},
		{Uint32, "uint", 4, false},
		{Uint64, "ulong", 8, false},
		{Float16, "half", 2, true},
		{Float32, "float", 4, true},
		{Float64, "double", 8, true},
	}
	for _, c := range cases {
		t.Run(c.dt.String(), func(t *testing.T) {
			assert.Equal(t, c.clType, c.dt.CLType())
			assert.Equal(t, c.size, c.dt.Size())
			assert.Equal(t, c.isFloat, c.dt.IsFloat())
		})
	}
	assert.True(t, Float64.RequiresFP64())
	assert.False(t, Float32.RequiresFP64())
	assert.True(t, Int32.IsInteger())
	assert.False(t, Float32.IsInteger())
}

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Int32, FromGenericsType[int32]())
	assert.Equal(t, Int64, FromGenericsType[int64]())
	assert.Equal(t, Uint32, FromGenericsType[uint32]())
	assert.Equal(t, Uint64, FromGenericsType[uint64]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float64, FromGenericsType[float64]())
}

func TestFlatBytes(t *testing.T) {
	values := []float64{1.5, -2.25, 3}
	raw := ToBytes(values)
	require.Len(t, raw, 24)
	back := FromBytes[float64](raw)
	assert.Equal(t, values, back)

	// The byte view aliases the original storage.
	values[0] = 7
	assert.Equal(t, 7.0, FromBytes[float64](raw)[0])

	assert.Nil(t, ToBytes[float64](nil))
	assert.Nil(t, FromBytes[float64](nil))
}

func TestFlatBytesFloat16(t *testing.T) {
	values := []float16.Float16{
		float16.Fromfloat32(1.5),
		float16.Fromfloat32(-0.25),
	}
	raw := ToBytes(values)
	require.Len(t, raw, 4)
	back := FromBytes[float16.Float16](raw)
	assert.Equal(t, float32(1.5), back[0].Float32())
	assert.Equal(t, float32(-0.25), back[1].Float32())
}
