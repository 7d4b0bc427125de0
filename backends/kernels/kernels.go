// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the host (CPU) reference kernels executed by the drivers.
//
// Kernels operate on raw dense row-major byte buffers of one element type: all operands and the
// output hold the same number of elements. Buffers allocated by the host allocators of this
// module are 8-byte aligned, so they are reinterpreted in place; misaligned buffers are copied.
package kernels

import (
	"math"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Op enumerates the element-wise kernels.
type Op int

const (
	Invalid Op = iota
	Copy
	Neg
	Abs
	Sqrt
	Exp
	Add
	Sub
	Mul
	Div
	Max
	Min
)

var opNames = []string{"Invalid", "Copy", "Neg", "Abs", "Sqrt", "Exp", "Add", "Sub", "Mul", "Div", "Max", "Min"}

// String implements fmt.Stringer.
func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "Op(?)"
	}
	return opNames[op]
}

// ParseOp returns the Op with the given name (as returned by Op.String).
func ParseOp(name string) (Op, error) {
	for ii, n := range opNames {
		if n == name && ii != int(Invalid) {
			return Op(ii), nil
		}
	}
	return Invalid, errors.Errorf("unknown kernel op %q", name)
}

// Arity returns the number of operands of the op.
func (op Op) Arity() int {
	switch {
	case op >= Add && op <= Min:
		return 2
	case op >= Copy && op <= Exp:
		return 1
	}
	return 0
}

type number interface {
	constraints.Integer | constraints.Float
}

// Run executes op over the operands, writing into out. dtype is the element type of all buffers.
func Run(op Op, dtype dtypes.DType, out []byte, operands ...[]byte) error {
	if op.Arity() == 0 {
		return errors.Errorf("invalid kernel op %s", op)
	}
	if len(operands) != op.Arity() {
		return errors.Errorf("kernel %s takes %d operands, got %d", op, op.Arity(), len(operands))
	}
	for ii, operand := range operands {
		if len(operand) != len(out) {
			return errors.Errorf("kernel %s: operand #%d has %d bytes, output has %d", op, ii, len(operand), len(out))
		}
	}
	elementSize := dtype.Size()
	if elementSize <= 0 || len(out)%elementSize != 0 {
		return errors.Errorf("kernel %s: buffer of %d bytes is not a multiple of %s element size", op, len(out), dtype)
	}
	if op == Copy {
		copy(out, operands[0])
		return nil
	}
	switch dtype {
	case dtypes.Float32:
		return runNumeric[float32](op, dtype, out, operands)
	case dtypes.Float64:
		return runNumeric[float64](op, dtype, out, operands)
	case dtypes.Int8:
		return runNumeric[int8](op, dtype, out, operands)
	case dtypes.Int16:
		return runNumeric[int16](op, dtype, out, operands)
	case dtypes.Int32:
		return runNumeric[int32](op, dtype, out, operands)
	case dtypes.Int64:
		return runNumeric[int64](op, dtype, out, operands)
	case dtypes.Uint8:
		return runNumeric[uint8](op, dtype, out, operands)
	case dtypes.Uint16:
		return runNumeric[uint16](op, dtype, out, operands)
	case dtypes.Uint32:
		return runNumeric[uint32](op, dtype, out, operands)
	case dtypes.Uint64:
		return runNumeric[uint64](op, dtype, out, operands)
	case dtypes.Float16:
		return runViaFloat32(op, out, operands, float16.Float16.Float32, float16.Fromfloat32)
	case dtypes.BFloat16:
		return runViaFloat32(op, out, operands, bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	case dtypes.Complex64:
		return runComplex[complex64](op, dtype, out, operands)
	case dtypes.Complex128:
		return runComplex[complex128](op, dtype, out, operands)
	case dtypes.Bool:
		return runBool(op, out, operands)
	}
	return errors.Errorf("kernel %s: element type %s not supported", op, dtype)
}

func isFloat[T number]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}

func isUnsigned[T number]() bool {
	var zero T
	return zero-1 > zero
}

func runNumeric[T number](op Op, dtype dtypes.DType, out []byte, operands [][]byte) error {
	floating := isFloat[T]()
	if op.Arity() == 1 {
		var fn func(T) T
		switch {
		case op == Neg && !isUnsigned[T]():
			fn = func(x T) T { return -x }
		case op == Abs && !isUnsigned[T]():
			fn = func(x T) T {
				if x < 0 {
					return -x
				}
				return x
			}
		case op == Sqrt && floating:
			fn = func(x T) T { return T(math.Sqrt(float64(x))) }
		case op == Exp && floating:
			fn = func(x T) T { return T(math.Exp(float64(x))) }
		default:
			return errors.Errorf("kernel %s not supported for %s", op, dtype)
		}
		mapUnary(out, operands[0], fn)
		return nil
	}

	var fn func(T, T) T
	switch op {
	case Add:
		fn = func(a, b T) T { return a + b }
	case Sub:
		fn = func(a, b T) T { return a - b }
	case Mul:
		fn = func(a, b T) T { return a * b }
	case Div:
		if !floating {
			for _, v := range view[T](operands[1]) {
				if v == 0 {
					return errors.Errorf("kernel %s: integer division by zero (%s)", op, dtype)
				}
			}
		}
		fn = func(a, b T) T { return a / b }
	case Max:
		fn = func(a, b T) T { return max(a, b) }
	case Min:
		fn = func(a, b T) T { return min(a, b) }
	default:
		return errors.Errorf("kernel %s not supported for %s", op, dtype)
	}
	mapBinary(out, operands[0], operands[1], fn)
	return nil
}

// runViaFloat32 runs the kernels of the 16 bits float types by computing in float32.
func runViaFloat32[T ~uint16](op Op, out []byte, operands [][]byte, toF32 func(T) float32, fromF32 func(float32) T) error {
	f32Operands := make([][]byte, len(operands))
	for ii, operand := range operands {
		values := view[T](operand)
		converted := make([]float32, len(values))
		for jj, v := range values {
			converted[jj] = toF32(v)
		}
		f32Operands[ii] = Bytes(converted)
	}
	f32Out := make([]float32, len(out)/2)
	if err := runNumeric[float32](op, dtypes.Float32, Bytes(f32Out), f32Operands); err != nil {
		return err
	}
	results := make([]T, len(f32Out))
	for ii, v := range f32Out {
		results[ii] = fromF32(v)
	}
	copy(out, Bytes(results))
	return nil
}

func runComplex[T complex64 | complex128](op Op, dtype dtypes.DType, out []byte, operands [][]byte) error {
	switch op {
	case Neg:
		mapUnary(out, operands[0], func(x T) T { return -x })
	case Add:
		mapBinary(out, operands[0], operands[1], func(a, b T) T { return a + b })
	case Sub:
		mapBinary(out, operands[0], operands[1], func(a, b T) T { return a - b })
	case Mul:
		mapBinary(out, operands[0], operands[1], func(a, b T) T { return a * b })
	case Div:
		mapBinary(out, operands[0], operands[1], func(a, b T) T { return a / b })
	default:
		return errors.Errorf("kernel %s not supported for %s", op, dtype)
	}
	return nil
}

func runBool(op Op, out []byte, operands [][]byte) error {
	switch op {
	case Max:
		mapBinary(out, operands[0], operands[1], func(a, b bool) bool { return a || b })
	case Min:
		mapBinary(out, operands[0], operands[1], func(a, b bool) bool { return a && b })
	default:
		return errors.Errorf("kernel %s not supported for %s", op, dtypes.Bool)
	}
	return nil
}

func mapUnary[T any](out, in []byte, fn func(T) T) {
	dst, writeBack := mutableView[T](out)
	for ii, v := range view[T](in) {
		dst[ii] = fn(v)
	}
	writeBack()
}

func mapBinary[T any](out, lhs, rhs []byte, fn func(T, T) T) {
	dst, writeBack := mutableView[T](out)
	a, b := view[T](lhs), view[T](rhs)
	for ii := range dst {
		dst[ii] = fn(a[ii], b[ii])
	}
	writeBack()
}

// view reinterprets b as a slice of T, copying it if b is not aligned for T.
func view[T any](b []byte) []T {
	s, _ := mutableView[T](b)
	return s
}

// mutableView reinterprets b as a slice of T. If b is not aligned, it returns a copy and writeBack copies
// the values back into b.
func mutableView[T any](b []byte) (s []T, writeBack func()) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(b) / size
	if n == 0 {
		return nil, func() {}
	}
	if uintptr(unsafe.Pointer(&b[0]))%unsafe.Alignof(zero) == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n), func() {}
	}
	s = make([]T, n)
	copy(Bytes(s), b)
	return s, func() { copy(b, Bytes(s)) }
}

// Bytes returns the memory of the flat slice as bytes, without copying.
func Bytes[T any](flat []T) []byte {
	if len(flat) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(zero)))
}

// View reinterprets the bytes as a slice of T, copying only if the memory is not aligned for T.
// The returned slice must not be modified: it may share memory with b.
func View[T any](b []byte) []T {
	return view[T](b)
}
