package kernels

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMulFloat32(t *testing.T) {
	lhs := []float32{1.0, 1.1, 1.2, 1.3}
	rhs := []float32{10.0, 100.0, 1000.0, 10000.0}
	out := make([]float32, 4)
	require.NoError(t, Run(Mul, dtypes.Float32, Bytes(out), Bytes(lhs), Bytes(rhs)))
	want := []float32{10.0, 110.0, 1200.0, 13000.0}
	for ii := range want {
		assert.InDelta(t, want[ii], out[ii], 1e-3)
	}
}

func TestIntegerKernels(t *testing.T) {
	a := []int32{-4, 9, 7}
	b := []int32{2, 3, -7}
	out := make([]int32, 3)
	require.NoError(t, Run(Div, dtypes.Int32, Bytes(out), Bytes(a), Bytes(b)))
	assert.Equal(t, []int32{-2, 3, -1}, out)
	require.NoError(t, Run(Max, dtypes.Int32, Bytes(out), Bytes(a), Bytes(b)))
	assert.Equal(t, []int32{2, 9, 7}, out)
	require.NoError(t, Run(Abs, dtypes.Int32, Bytes(out), Bytes(a)))
	assert.Equal(t, []int32{4, 9, 7}, out)

	b[1] = 0
	require.Error(t, Run(Div, dtypes.Int32, Bytes(out), Bytes(a), Bytes(b)))

	u := []uint8{1, 2}
	uOut := make([]uint8, 2)
	require.Error(t, Run(Neg, dtypes.Uint8, Bytes(uOut), Bytes(u)), "Neg is not defined for unsigned types")
	require.Error(t, Run(Sqrt, dtypes.Int64, make([]byte, 8), make([]byte, 8)))
}

func TestFloat16(t *testing.T) {
	a := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}
	b := []float16.Float16{float16.Fromfloat32(2), float16.Fromfloat32(4)}
	out := make([]float16.Float16, 2)
	require.NoError(t, Run(Mul, dtypes.Float16, Bytes(out), Bytes(a), Bytes(b)))
	assert.Equal(t, float32(3), out[0].Float32())
	assert.Equal(t, float32(-8), out[1].Float32())
}

func TestValidation(t *testing.T) {
	require.Error(t, Run(Add, dtypes.Float32, make([]byte, 8), make([]byte, 8)), "missing operand")
	require.Error(t, Run(Add, dtypes.Float32, make([]byte, 8), make([]byte, 8), make([]byte, 4)), "length mismatch")
	require.Error(t, Run(Add, dtypes.Float32, make([]byte, 6), make([]byte, 6), make([]byte, 6)), "not a multiple of 4")
	require.Error(t, Run(Invalid, dtypes.Float32, nil))

	op, err := ParseOp("Mul")
	require.NoError(t, err)
	assert.Equal(t, Mul, op)
	assert.Equal(t, 2, op.Arity())
	_, err = ParseOp("Invalid")
	require.Error(t, err)
}

func TestMisalignedBuffers(t *testing.T) {
	raw := make([]byte, 1+3*8)
	src := Bytes([]float64{1, 4, 9})
	in := raw[1:]
	copy(in, src)
	out := make([]byte, 1+3*8)
	require.NoError(t, Run(Sqrt, dtypes.Float64, out[1:], in))
	got := View[float64](out[1:])
	assert.Equal(t, []float64{1, 2, 3}, got)
	assert.False(t, math.IsNaN(got[0]))
}
