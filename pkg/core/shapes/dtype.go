// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// elementTypeNames lists the element types supported by buffer views, with their short names.
var elementTypeNames = map[dtypes.DType]string{
	dtypes.Bool:       "i1",
	dtypes.Int8:       "i8",
	dtypes.Int16:      "i16",
	dtypes.Int32:      "i32",
	dtypes.Int64:      "i64",
	dtypes.Uint8:      "ui8",
	dtypes.Uint16:     "ui16",
	dtypes.Uint32:     "ui32",
	dtypes.Uint64:     "ui64",
	dtypes.Float16:    "f16",
	dtypes.BFloat16:   "bf16",
	dtypes.Float32:    "f32",
	dtypes.Float64:    "f64",
	dtypes.Complex64:  "c64",
	dtypes.Complex128: "c128",
}

// ElementTypeName returns the short name ("f32", "i8", ...) of a supported element type.
func ElementTypeName(dtype dtypes.DType) string {
	if name, found := elementTypeNames[dtype]; found {
		return name
	}
	return dtype.String()
}

// ParseElementType is the inverse of ElementTypeName.
func ParseElementType(name string) (dtypes.DType, error) {
	for dtype, n := range elementTypeNames {
		if n == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown element type %q", name)
}

// IsSupported returns whether dtype can be used as the element type of a buffer view.
func IsSupported(dtype dtypes.DType) bool {
	_, found := elementTypeNames[dtype]
	return found
}

// Encoding of the elements of a buffer in memory.
type Encoding int

const (
	// EncodingOpaque means the layout is backend specific and cannot be interpreted by the host.
	EncodingOpaque Encoding = iota

	// EncodingDenseRowMajor is the packed row-major (C order) layout.
	EncodingDenseRowMajor
)

// String implements fmt.Stringer.
func (e Encoding) String() string {
	switch e {
	case EncodingOpaque:
		return "Opaque"
	case EncodingDenseRowMajor:
		return "DenseRowMajor"
	}
	return "Encoding(?)"
}
