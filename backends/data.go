// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Buffer is a region of memory reserved by an Allocator, on the host or on a device.
//
// Buffers are untyped: the element type and shape are given by the buffer view that owns it.
// A Buffer has exactly one owner (usually a bufferview.BufferView), which calls Release once when
// done. A released buffer should never be used again.
type Buffer interface {
	// ByteLength of the buffer.
	ByteLength() int

	// Params the buffer was allocated with (normalized).
	Params() BufferParams

	// Allocator that owns the memory.
	Allocator() Allocator

	// ReadAt copies len(dst) bytes starting at offset into dst. It requires AccessRead.
	ReadAt(dst []byte, offset int) error

	// WriteAt copies src into the buffer starting at offset. It requires AccessWrite.
	WriteAt(src []byte, offset int) error

	// Release returns the memory to the allocator.
	Release()
}

// HostBuffer is a Buffer whose memory the host can address directly (CPU devices).
// Drivers use it to execute kernels without staging copies.
type HostBuffer interface {
	Buffer

	// HostBytes returns the memory of the buffer. It is invalid after Release.
	HostBytes() []byte
}

// Allocator reserves and releases memory for one device (or for the host).
//
// Allocators are shared by every Session using the device, and must be safe for concurrent use.
type Allocator interface {
	// Name of the allocator, for pretty-printing.
	Name() string

	// Capabilities of the allocator: what params it can serve.
	Capabilities() AllocatorCapabilities

	// Allocate reserves a zero-initialized buffer of byteLength bytes.
	Allocate(params BufferParams, byteLength int) (Buffer, error)

	// AllocateWithData reserves a buffer and clones data into it. The caller keeps ownership of data.
	AllocateWithData(params BufferParams, data []byte) (Buffer, error)

	// Statistics returns a snapshot of the allocator usage.
	Statistics() AllocatorStatistics
}

// AllocatorStatistics is a snapshot of the usage of an Allocator.
type AllocatorStatistics struct {
	// BytesLive is the number of bytes currently allocated, and BytesPeak its historical maximum.
	BytesLive, BytesPeak int64

	// BuffersLive is the number of buffers not yet released.
	BuffersLive int64

	// Allocations and Releases are the total counts of operations.
	Allocations, Releases int64
}
