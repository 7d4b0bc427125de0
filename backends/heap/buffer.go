// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package heap

import (
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/status"
)

// Buffer of host memory, returned by Allocator.
type Buffer struct {
	allocator *Allocator
	params    backends.BufferParams
	class     int
	words     *[]uint64
	data      []byte
	released  atomic.Bool
}

// Compile-time check.
var _ backends.HostBuffer = (*Buffer)(nil)

func wordsAsBytes(words []uint64) []byte {
	if len(words) == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}

// ByteLength implements backends.Buffer.
func (b *Buffer) ByteLength() int { return len(b.data) }

// Params implements backends.Buffer.
func (b *Buffer) Params() backends.BufferParams { return b.params }

// Allocator implements backends.Buffer.
func (b *Buffer) Allocator() backends.Allocator { return b.allocator }

// HostBytes implements backends.HostBuffer.
func (b *Buffer) HostBytes() []byte {
	b.checkValid("HostBytes")
	return b.data
}

func (b *Buffer) checkValid(method string) {
	if b.released.Load() {
		exceptions.Panicf("heap.Buffer.%s(): buffer of %d bytes already released", method, len(b.data))
	}
}

func (b *Buffer) checkRange(n, offset int) error {
	if offset < 0 || offset+n > len(b.data) {
		return status.Errorf(status.SizeMismatch, "range [%d, %d) out of bounds of buffer of %d bytes", offset, offset+n, len(b.data))
	}
	return nil
}

// ReadAt implements backends.Buffer.
func (b *Buffer) ReadAt(dst []byte, offset int) error {
	b.checkValid("ReadAt")
	if b.params.Access&backends.AccessRead == 0 {
		return status.Errorf(status.UnsupportedParams, "buffer not readable, access=%s", b.params.Access)
	}
	if err := b.checkRange(len(dst), offset); err != nil {
		return err
	}
	copy(dst, b.data[offset:])
	return nil
}

// WriteAt implements backends.Buffer.
func (b *Buffer) WriteAt(src []byte, offset int) error {
	b.checkValid("WriteAt")
	if b.params.Access&backends.AccessWrite == 0 {
		return status.Errorf(status.UnsupportedParams, "buffer not writable, access=%s", b.params.Access)
	}
	if err := b.checkRange(len(src), offset); err != nil {
		return err
	}
	copy(b.data[offset:], src)
	return nil
}

// Release implements backends.Buffer. Releasing twice panics.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		exceptions.Panicf("heap.Buffer.Release(): buffer of %d bytes released twice", len(b.data))
	}
	b.allocator.free(b)
	b.data = nil
	b.words = nil
}
