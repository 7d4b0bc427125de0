// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bufferview

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/x448/float16"
)

// DefaultMaxElements printed by String.
const DefaultMaxElements = 1024

// String implements fmt.Stringer. See Format.
func (v *BufferView) String() string {
	if v.IsReleased() {
		return v.shape.String() + "=<released>"
	}
	return v.Format(DefaultMaxElements)
}

// Format the contents of the view in the compact form "<shape>=<values>", e.g.:
//
//	4xf32=1 1.1 1.2 1.3
//	2x2xi32=[1 2][3 4]
//
// At most maxElements values are printed, followed by "..." if there are more. If maxElements <= 0 all
// values are printed.
func (v *BufferView) Format(maxElements int) string {
	var buf bytes.Buffer
	if err := v.Fprint(&buf, maxElements); err != nil {
		return fmt.Sprintf("%s=<error: %v>", v.shape, err)
	}
	return buf.String()
}

// Fprint writes the contents of the view to w, in the format described in Format.
func (v *BufferView) Fprint(w io.Writer, maxElements int) error {
	data, err := v.ReadBytes()
	if err != nil {
		return err
	}
	values := formatElements(v.shape.DType, data)
	if maxElements <= 0 || maxElements > len(values) {
		maxElements = len(values)
	}

	var buf bytes.Buffer
	buf.WriteString(v.shape.String())
	buf.WriteByte('=')
	dims := v.shape.Dimensions
	if len(dims) == 0 {
		if len(values) > 0 {
			buf.WriteString(values[0])
		}
		_, err = w.Write(buf.Bytes())
		return err
	}

	// strides[axis] is the number of elements of one slice of the axis.
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	for ii := range maxElements {
		if ii > 0 && ii%dims[len(dims)-1] != 0 {
			buf.WriteByte(' ')
		}
		for axis := 0; axis < len(dims)-1; axis++ {
			if ii%strides[axis] == 0 {
				buf.WriteByte('[')
			}
		}
		buf.WriteString(values[ii])
		for axis := 0; axis < len(dims)-1; axis++ {
			if (ii+1)%strides[axis] == 0 {
				buf.WriteByte(']')
			}
		}
	}
	if maxElements < len(values) {
		buf.WriteString("...")
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// formatElements converts each element of the flat data to string.
func formatElements(dtype dtypes.DType, data []byte) []string {
	switch dtype {
	case dtypes.Bool:
		return formatAll(kernels.View[bool](data), func(b bool) string {
			if b {
				return "1"
			}
			return "0"
		})
	case dtypes.Int8:
		return formatAll(kernels.View[int8](data), formatInt[int8])
	case dtypes.Int16:
		return formatAll(kernels.View[int16](data), formatInt[int16])
	case dtypes.Int32:
		return formatAll(kernels.View[int32](data), formatInt[int32])
	case dtypes.Int64:
		return formatAll(kernels.View[int64](data), formatInt[int64])
	case dtypes.Uint8:
		return formatAll(kernels.View[uint8](data), formatUint[uint8])
	case dtypes.Uint16:
		return formatAll(kernels.View[uint16](data), formatUint[uint16])
	case dtypes.Uint32:
		return formatAll(kernels.View[uint32](data), formatUint[uint32])
	case dtypes.Uint64:
		return formatAll(kernels.View[uint64](data), formatUint[uint64])
	case dtypes.Float16:
		return formatAll(kernels.View[float16.Float16](data), func(f float16.Float16) string {
			return strconv.FormatFloat(float64(f.Float32()), 'g', -1, 32)
		})
	case dtypes.BFloat16:
		return formatAll(kernels.View[bfloat16.BFloat16](data), func(f bfloat16.BFloat16) string {
			return strconv.FormatFloat(float64(f.Float32()), 'g', -1, 32)
		})
	case dtypes.Float32:
		return formatAll(kernels.View[float32](data), func(f float32) string {
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		})
	case dtypes.Float64:
		return formatAll(kernels.View[float64](data), func(f float64) string {
			return strconv.FormatFloat(f, 'g', -1, 64)
		})
	case dtypes.Complex64:
		return formatAll(kernels.View[complex64](data), func(c complex64) string {
			return strconv.FormatComplex(complex128(c), 'g', -1, 64)
		})
	case dtypes.Complex128:
		return formatAll(kernels.View[complex128](data), func(c complex128) string {
			return strconv.FormatComplex(c, 'g', -1, 128)
		})
	}
	return []string{fmt.Sprintf("<%d bytes of %s>", len(data), dtype)}
}

func formatAll[T any](values []T, fn func(T) string) []string {
	out := make([]string, len(values))
	for ii, v := range values {
		out[ii] = fn(v)
	}
	return out
}

func formatInt[T int8 | int16 | int32 | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatUint[T uint8 | uint16 | uint32 | uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}
