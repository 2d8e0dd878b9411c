package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func f32Tensor(t *testing.T, vals []float32, shape Shape) *RawTensor {
	t.Helper()
	raw, err := FromBytes(EncodeFloats(vals, Float32), shape, Float32, CPU)
	require.NoError(t, err)
	return raw
}

func TestCastFloat32ToFloat16(t *testing.T) {
	vals := []float32{0, 1, -2, 0.5}
	raw := f32Tensor(t, vals, Shape{4})

	half, err := Cast(raw, Float16)
	require.NoError(t, err)
	require.Equal(t, Float16, half.DType())
	require.Equal(t, 8, half.ByteSize())

	back, err := DecodeFloats(half.Data(), Float16)
	require.NoError(t, err)
	require.Equal(t, vals, back)
}

func TestCastFloat32ToBFloat16(t *testing.T) {
	vals := []float32{1, -1, 0.5, 2}
	raw := f32Tensor(t, vals, Shape{2, 2})

	bf, err := Cast(raw, BFloat16)
	require.NoError(t, err)
	require.Equal(t, BFloat16, bf.DType())
	require.Equal(t, 8, bf.ByteSize())

	back, err := DecodeFloats(bf.Data(), BFloat16)
	require.NoError(t, err)
	require.Equal(t, vals, back)
}

func TestCastFloat64RoundTrip(t *testing.T) {
	raw := f32Tensor(t, []float32{3, 4}, Shape{2})

	wide, err := Cast(raw, Float64)
	require.NoError(t, err)
	require.Equal(t, 16, wide.ByteSize())

	narrow, err := Cast(wide, Float32)
	require.NoError(t, err)

	back, err := DecodeFloats(narrow.Data(), Float32)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 4}, back)
}

func TestCastSameDTypeIsIdentity(t *testing.T) {
	raw := f32Tensor(t, []float32{1}, Shape{1})
	out, err := Cast(raw, Float32)
	require.NoError(t, err)
	require.Same(t, raw, out)
}

func TestCastIntegerRejected(t *testing.T) {
	raw, err := NewRaw(Shape{3}, Int64, CPU)
	require.NoError(t, err)
	_, err = Cast(raw, Float16)
	require.Error(t, err)
}
