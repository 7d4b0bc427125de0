package bufferview

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/heap"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestAllocateRoundTrip(t *testing.T) {
	allocator := heap.NewHost()
	specials := []float32{1.0, 1.1, float32(math.NaN()), float32(math.Inf(-1)), -0.0, math.SmallestNonzeroFloat32}
	for _, shape := range []shapes.Shape{
		shapes.Make(dtypes.Float32, 6),
		shapes.Make(dtypes.Float32, 2, 3),
		shapes.Make(dtypes.Int8, 3, 2),
		shapes.Make(dtypes.Complex128, 3),
		shapes.Make(dtypes.BFloat16),
		shapes.Make(dtypes.Float64, 0, 4),
	} {
		data := make([]byte, shape.ByteSize())
		if shape.DType == dtypes.Float32 {
			copy(data, kernels.Bytes(specials))
		} else {
			for ii := range data {
				data[ii] = byte(ii*37 + 11)
			}
		}
		v, err := Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.DefaultParams, data)
		require.NoError(t, err, "shape %s", shape)
		assert.True(t, shape.Equal(v.Shape()))
		assert.Equal(t, shape.ByteSize(), v.ByteLength())
		got, err := v.ReadBytes()
		require.NoError(t, err)
		assert.Equal(t, data, got, "round-trip must be bit-exact for shape %s", shape)
		v.Release()
	}
	assert.Equal(t, int64(0), allocator.Statistics().BytesLive)
}

func TestAllocateErrors(t *testing.T) {
	allocator := heap.New(heap.Config{MaxBytes: 64, MemoryTypes: backends.MemoryTypeHostLocal})
	shape := shapes.Make(dtypes.Float32, 4)

	v, err := Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.BufferParams{}, make([]byte, 15))
	assert.Nil(t, v)
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)
	_, err = Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.BufferParams{}, make([]byte, 17))
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)
	_, err = Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.BufferParams{}, nil)
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)

	_, err = Allocate(allocator, shape, shapes.EncodingOpaque, backends.BufferParams{}, make([]byte, 16))
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)
	_, err = Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.DefaultParams, make([]byte, 16))
	assert.True(t, status.Is(err, status.UnsupportedParams), "device local memory not supported: got %v", err)
	_, err = AllocateZeroed(allocator, shapes.Shape{DType: dtypes.InvalidDType}, shapes.EncodingDenseRowMajor, backends.BufferParams{})
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)

	huge := shapes.Shape{DType: dtypes.Float32, Dimensions: []int{1 << 62, 4}}
	v, err = Allocate(heap.NewHost(), huge, shapes.EncodingDenseRowMajor, backends.DefaultParams, []byte{})
	assert.Nil(t, v)
	assert.True(t, status.Is(err, status.UnsupportedParams), "shape size overflows: got %v", err)
	_, err = AllocateZeroed(heap.NewHost(), huge, shapes.EncodingDenseRowMajor, backends.DefaultParams)
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)

	_, err = AllocateZeroed(allocator, shapes.Make(dtypes.Float64, 100), shapes.EncodingDenseRowMajor, backends.BufferParams{})
	assert.True(t, status.Is(err, status.AllocationFailure), "got %v", err)
	assert.Equal(t, int64(0), allocator.Statistics().BuffersLive, "no buffer should be produced on failure")
}

func TestRefCount(t *testing.T) {
	allocator := heap.NewHost()
	v := must.M1(FromFlatData(allocator, []int32{1, 2, 3}, 3))
	v.Retain()
	assert.Equal(t, int64(2), v.RefCount())
	v.Release()
	assert.False(t, v.IsReleased())
	assert.Equal(t, int64(1), allocator.Statistics().BuffersLive, "releasing with count > 1 must not free the buffer")
	flat := must.M1(FlatData[int32](v))
	assert.Equal(t, []int32{1, 2, 3}, flat)
	v.Release()
	assert.True(t, v.IsReleased())
	assert.Equal(t, int64(0), allocator.Statistics().BuffersLive)
	assert.Panics(t, v.Release, "double release must panic")
	assert.Panics(t, func() { _, _ = v.ReadBytes() })
}

func TestFlatData(t *testing.T) {
	allocator := heap.NewHost()
	v := must.M1(FromFlatData(allocator, []float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}, 2))
	defer v.Release()
	assert.Equal(t, dtypes.Float16, v.ElementType())
	_, err := FlatData[float32](v)
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)
	assert.Equal(t, "2xf16=0.5 -2", v.String())

	_, err = FromFlatData(allocator, []float32{1, 2, 3}, 2, 2)
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)

	require.NoError(t, v.WriteBytes(kernels.Bytes([]float16.Float16{float16.Fromfloat32(3), float16.Fromfloat32(4)})))
	assert.Equal(t, "2xf16=3 4", v.String())
	err = v.WriteBytes([]byte{1})
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)
}

func TestFormat(t *testing.T) {
	allocator := heap.NewHost()
	lhs := must.M1(FromFlatData(allocator, []float32{1.0, 1.1, 1.2, 1.3}, 4))
	defer lhs.Release()
	assert.Equal(t, "4xf32=1 1.1 1.2 1.3", lhs.String())
	assert.Equal(t, "4xf32=1 1.1...", lhs.Format(2))

	matrix := must.M1(FromFlatData(allocator, []int32{1, 2, 3, 4, 5, 6}, 2, 3))
	defer matrix.Release()
	assert.Equal(t, "2x3xi32=[1 2 3][4 5 6]", matrix.String())

	scalar := must.M1(FromFlatData(allocator, []bfloat16.BFloat16{bfloat16.FromFloat32(2)}))
	defer scalar.Release()
	assert.Equal(t, "bf16=2", scalar.String())

	flags := must.M1(FromFlatData(allocator, []bool{true, false}, 2))
	defer flags.Release()
	assert.Equal(t, "2xi1=1 0", flags.String())
}
