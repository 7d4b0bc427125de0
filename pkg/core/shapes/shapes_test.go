package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 4)
	assert.Equal(t, 1, s.Rank())
	assert.Equal(t, 4, s.Size())
	assert.Equal(t, 16, s.ByteSize())
	assert.Equal(t, "4xf32", s.String())
	assert.False(t, s.IsScalar())

	s = Make(dtypes.Float16, 2, 3)
	assert.Equal(t, 12, s.ByteSize())
	assert.Equal(t, "2x3xf16", s.String())

	scalar := Make(dtypes.Int64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "i64", scalar.String())

	empty := Make(dtypes.Float64, 3, 0)
	assert.Equal(t, 0, empty.ByteSize())

	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Make(dtypes.Float16, 3, 2)))
	assert.False(t, Invalid().Ok())
	assert.False(t, Shape{}.Ok())
}

func TestNew(t *testing.T) {
	_, err := New(dtypes.Float32, 2, -1)
	require.Error(t, err)
	_, err = New(dtypes.InvalidDType, 2)
	require.Error(t, err)
	assert.Panics(t, func() { _ = Make(dtypes.Int32, -3) })

	_, err = New(dtypes.Float32, 1<<62, 4)
	require.Error(t, err, "element count overflows int")
	_, err = New(dtypes.Float64, 1<<61)
	require.Error(t, err, "byte size overflows int")
	_, err = New(dtypes.Float32, 0, 1<<62, 4)
	require.NoError(t, err, "a zero dimension means no elements")
	assert.False(t, Shape{DType: dtypes.Int8, Dimensions: []int{1 << 40, 1 << 40}}.Ok())

	dims := []int{5, 7}
	s, err := New(dtypes.Uint8, dims...)
	require.NoError(t, err)
	dims[0] = 11
	assert.Equal(t, []int{5, 7}, s.Dimensions, "New must copy the dimensions")
}

func TestElementTypeNames(t *testing.T) {
	dtype, err := ParseElementType("bf16")
	require.NoError(t, err)
	assert.Equal(t, dtypes.BFloat16, dtype)
	assert.Equal(t, "bf16", ElementTypeName(dtype))
	_, err = ParseElementType("f128")
	require.Error(t, err)
	assert.True(t, IsSupported(dtypes.Complex64))
	assert.Equal(t, "DenseRowMajor", EncodingDenseRowMajor.String())
}
