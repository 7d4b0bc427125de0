// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the element type (DType) and the Encoding of a buffer view.
//
// A Shape is the element type plus the ordered sequence of dimension sizes of a tensor.
// The element types are the ones enumerated by github.com/gomlx/gopjrt/dtypes, so shapes can be
// handed to PJRT devices without conversion.
//
// Example: the 4 element float32 vector `[]float32{1, 1.1, 1.2, 1.3}` has shape
// `shapes.Make(dtypes.Float32, 4)`, printed as "4xf32".
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a shape.
//   - Dimension: the size of an axis. Dimensions may be 0, in which case the shape holds no elements.
//   - DType: the data type of one element.
//   - Scalar: a shape of rank 0, holding exactly one element.
package shapes

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of a tensor: element type and dimensions.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics if any dimension is negative. See New for a version that returns an error.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s, err := New(dtype, dimensions...)
	if err != nil {
		exceptions.Panicf("shapes.Make(%s, %v): %v", dtype, dimensions, err)
	}
	return s
}

// New returns a new Shape, or an error if the dtype is invalid or a dimension is negative.
func New(dtype dtypes.DType, dimensions ...int) (Shape, error) {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if err := s.Check(); err != nil {
		return Invalid(), err
	}
	return s, nil
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Check returns an error if the shape is not valid: unknown or unsupported element type, negative dimensions,
// or a number of elements or bytes that doesn't fit an int.
func (s Shape) Check() error {
	if !IsSupported(s.DType) {
		return errors.Errorf("unsupported element type %s", s.DType)
	}
	hasZero := false
	for axis, dim := range s.Dimensions {
		if dim < 0 {
			return errors.Errorf("axis %d has negative dimension %d", axis, dim)
		}
		if dim == 0 {
			hasZero = true
		}
	}
	if hasZero {
		return nil
	}
	size := 1
	for axis, dim := range s.Dimensions {
		if size > math.MaxInt/dim {
			return errors.Errorf("number of elements overflows at axis %d (dimensions %v)", axis, s.Dimensions)
		}
		size *= dim
	}
	if elementSize := s.DType.Size(); elementSize > 0 && size > math.MaxInt/elementSize {
		return errors.Errorf("byte size of %d elements of %s overflows", size, s.DType)
	}
	return nil
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.Check() == nil }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Size returns the number of elements: the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// ByteSize returns the number of bytes needed to store a dense row-major buffer of this shape:
// Size() times the byte width of the element type.
func (s Shape) ByteSize() int {
	return s.Size() * s.DType.Size()
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// String implements stringer, pretty-prints the shape in the compact "4x2xf32" notation.
// Scalars print only the element type, e.g. "f32".
func (s Shape) String() string {
	name, found := elementTypeNames[s.DType]
	if !found {
		name = s.DType.String()
	}
	if s.Rank() == 0 {
		return name
	}
	parts := make([]string, 0, s.Rank()+1)
	for _, dim := range s.Dimensions {
		parts = append(parts, fmt.Sprintf("%d", dim))
	}
	parts = append(parts, name)
	return strings.Join(parts, "x")
}
