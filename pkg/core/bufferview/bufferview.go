// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bufferview implements BufferView, a typed and shaped view of a backend buffer: the tensor
// abstraction passed to and returned from calls.
//
// A BufferView is created from an Allocator (usually the allocator of the Device that will use it):
//
//   - Allocate: allocates a buffer and copies the initial data into it. The data length must match the
//     byte size of the shape exactly.
//   - AllocateZeroed: allocates a zero-initialized buffer.
//   - FromFlatData[T]: convenience to allocate a dense buffer with the values of a Go slice.
//
// The allocation parameters (memory type, access and usage) are validated against the capabilities of
// the allocator at allocation time.
//
// BufferViews are reference counted: the creator holds the first reference, Retain adds one and Release
// drops one. The backing buffer is released when the last reference is dropped. Releasing more times than
// retained is a programming error and panics.
package bufferview

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// BufferView is a typed, shaped view of a backend buffer.
//
// It is safe to share a BufferView across goroutines for reading; mutating the contents concurrently
// with its use by a call is undefined.
type BufferView struct {
	refs     xsync.RefCount
	shape    shapes.Shape
	encoding shapes.Encoding
	buffer   backends.Buffer
}

// validate returns the byte size of the view, or an UnsupportedParams/AllocationFailure error if the
// shape, encoding or params can't be served by the allocator.
func validate(allocator backends.Allocator, shape shapes.Shape, encoding shapes.Encoding, params backends.BufferParams) (int, error) {
	if allocator == nil {
		return 0, status.Errorf(status.AllocationFailure, "nil allocator")
	}
	if err := shape.Check(); err != nil {
		return 0, status.Wrapf(err, status.UnsupportedParams, "invalid shape %s", shape)
	}
	if encoding != shapes.EncodingDenseRowMajor {
		return 0, status.Errorf(status.UnsupportedParams, "encoding %s not supported, only %s buffers can be allocated",
			encoding, shapes.EncodingDenseRowMajor)
	}
	byteSize := shape.ByteSize()
	if err := allocator.Capabilities().Check(params, byteSize); err != nil {
		return 0, status.Wrapf(err, status.CodeOf(err), "allocator %q can't allocate %s with params %+v", allocator.Name(), shape, params)
	}
	return byteSize, nil
}

// Allocate a new BufferView with the given shape and encoding, initialized with a copy of initialData.
//
// It returns an UnsupportedParams error if the params, the element type or the encoding are not
// supported by the allocator, a SizeMismatch if len(initialData) is not exactly the byte size of the shape,
// and an AllocationFailure if the allocator fails to reserve the memory.
func Allocate(allocator backends.Allocator, shape shapes.Shape, encoding shapes.Encoding, params backends.BufferParams,
	initialData []byte) (*BufferView, error) {
	byteSize, err := validate(allocator, shape, encoding, params)
	if err != nil {
		return nil, err
	}
	if len(initialData) != byteSize {
		return nil, status.Errorf(status.SizeMismatch, "initial data has %d bytes, but shape %s requires %d bytes",
			len(initialData), shape, byteSize)
	}
	buffer, err := allocator.AllocateWithData(params, initialData)
	if err != nil {
		return nil, allocationError(err, allocator, shape)
	}
	return newView(buffer, shape, encoding), nil
}

// AllocateZeroed allocates a new zero-initialized BufferView. See Allocate for the errors.
func AllocateZeroed(allocator backends.Allocator, shape shapes.Shape, encoding shapes.Encoding, params backends.BufferParams) (*BufferView, error) {
	byteSize, err := validate(allocator, shape, encoding, params)
	if err != nil {
		return nil, err
	}
	buffer, err := allocator.Allocate(params, byteSize)
	if err != nil {
		return nil, allocationError(err, allocator, shape)
	}
	return newView(buffer, shape, encoding), nil
}

func allocationError(err error, allocator backends.Allocator, shape shapes.Shape) error {
	code := status.CodeOf(err)
	if code == status.Unknown {
		code = status.AllocationFailure
	}
	return status.Wrapf(err, code, "allocator %q failed to allocate %s", allocator.Name(), shape)
}

func newView(buffer backends.Buffer, shape shapes.Shape, encoding shapes.Encoding) *BufferView {
	v := &BufferView{shape: shape.Clone(), encoding: encoding, buffer: buffer}
	v.refs.Init("BufferView(" + shape.String() + ")")
	return v
}

// FromFlatData allocates a dense row-major BufferView with backends.DefaultParams, holding a copy of flat.
// The number of elements of flat must match the dimensions (a scalar if no dimensions are given).
func FromFlatData[T dtypes.Supported](allocator backends.Allocator, flat []T, dimensions ...int) (*BufferView, error) {
	shape, err := shapes.New(dtypes.FromGenericsType[T](), dimensions...)
	if err != nil {
		return nil, status.Wrapf(err, status.UnsupportedParams, "invalid shape for %T data", flat)
	}
	return Allocate(allocator, shape, shapes.EncodingDenseRowMajor, backends.DefaultParams, kernels.Bytes(flat))
}

// FlatData returns a copy of the contents of the view as a flat slice of T, which must match the element type.
func FlatData[T dtypes.Supported](v *BufferView) ([]T, error) {
	if dtype := dtypes.FromGenericsType[T](); dtype != v.shape.DType {
		return nil, status.Errorf(status.UnsupportedParams, "FlatData[%s] requested for buffer view of shape %s", dtype, v.shape)
	}
	data, err := v.ReadBytes()
	if err != nil {
		return nil, err
	}
	flat := make([]T, v.shape.Size())
	copy(kernels.Bytes(flat), data)
	return flat, nil
}

// Shape of the view.
func (v *BufferView) Shape() shapes.Shape { return v.shape }

// ElementType of the view.
func (v *BufferView) ElementType() dtypes.DType { return v.shape.DType }

// Encoding of the elements.
func (v *BufferView) Encoding() shapes.Encoding { return v.encoding }

// ByteLength of the backing buffer.
func (v *BufferView) ByteLength() int { return v.buffer.ByteLength() }

// Params of the backing buffer.
func (v *BufferView) Params() backends.BufferParams { return v.buffer.Params() }

// Buffer returns the backing buffer. It is owned by the view.
func (v *BufferView) Buffer() backends.Buffer {
	v.assertValid("Buffer")
	return v.buffer
}

// Allocator that owns the backing buffer.
func (v *BufferView) Allocator() backends.Allocator { return v.buffer.Allocator() }

// ReadBytes returns a copy of the contents of the view.
func (v *BufferView) ReadBytes() ([]byte, error) {
	v.assertValid("ReadBytes")
	data := make([]byte, v.buffer.ByteLength())
	if err := v.buffer.ReadAt(data, 0); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBytes overwrites the contents of the view. len(data) must match the byte length.
func (v *BufferView) WriteBytes(data []byte) error {
	v.assertValid("WriteBytes")
	if len(data) != v.buffer.ByteLength() {
		return status.Errorf(status.SizeMismatch, "writing %d bytes to buffer view %s of %d bytes", len(data), v.shape, v.buffer.ByteLength())
	}
	return v.buffer.WriteAt(data, 0)
}

func (v *BufferView) assertValid(method string) {
	if v == nil {
		exceptions.Panicf("BufferView.%s(): nil buffer view", method)
	}
	if v.refs.IsReleased() {
		exceptions.Panicf("BufferView.%s(): buffer view %s already released", method, v.shape)
	}
}

// Retain adds a reference to the view.
func (v *BufferView) Retain() { v.refs.Retain() }

// Release drops a reference to the view, releasing the backing buffer with the last one.
// Releasing more times than retained panics.
func (v *BufferView) Release() {
	if v.refs.Release() {
		v.buffer.Release()
	}
}

// RefCount returns the current number of references. Only meaningful for debugging and tests.
func (v *BufferView) RefCount() int64 { return v.refs.Count() }

// IsReleased returns whether the last reference was released.
func (v *BufferView) IsReleased() bool { return v.refs.IsReleased() }
