// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/hostrt/pkg/status"
)

// AllocatorCapabilities holds what an allocator supports.
// A buffer can only be allocated if all the bits of its BufferParams are supported.
type AllocatorCapabilities struct {
	// MemoryTypes the allocator can satisfy. A requested type must be a subset.
	MemoryTypes MemoryType

	// Access modes supported.
	Access MemoryAccess

	// Usage supported.
	Usage BufferUsage

	// MaxAllocationSize is the largest single allocation in bytes, 0 if unlimited.
	MaxAllocationSize int
}

// Check returns an UnsupportedParams error if params (after normalization) request anything
// not in the capabilities, or a byteLength beyond MaxAllocationSize.
func (c AllocatorCapabilities) Check(params BufferParams, byteLength int) error {
	params = params.Normalize()
	if params.Type&^c.MemoryTypes != 0 {
		return status.Errorf(status.UnsupportedParams, "memory type %s not supported, allocator supports %s",
			params.Type, c.MemoryTypes)
	}
	if params.Access&^c.Access != 0 {
		return status.Errorf(status.UnsupportedParams, "memory access %s not supported, allocator supports %s",
			params.Access, c.Access)
	}
	if params.Usage&^c.Usage != 0 {
		return status.Errorf(status.UnsupportedParams, "buffer usage %s not supported, allocator supports %s",
			params.Usage, c.Usage)
	}
	if byteLength < 0 {
		return status.Errorf(status.UnsupportedParams, "negative allocation size %d", byteLength)
	}
	if c.MaxAllocationSize > 0 && byteLength > c.MaxAllocationSize {
		return status.Errorf(status.AllocationFailure, "allocation of %d bytes exceeds the maximum of %d bytes",
			byteLength, c.MaxAllocationSize)
	}
	return nil
}
