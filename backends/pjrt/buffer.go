// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pjrt

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// deviceMemoryTypes served by the allocator: the host only sees device memory through transfers.
const deviceMemoryTypes = backends.MemoryTypeDeviceLocal | backends.MemoryTypeDeviceVisible | backends.MemoryTypeHostVisible

// Allocator of PJRT device buffers.
//
// Buffers are stored as flat uint8 PJRT buffers of the requested byte length: the element type is
// only known by the buffer views. Each live buffer holds a user of the PJRT client, so the client outlives
// the device if buffers are still around.
type Allocator struct {
	driver    *Driver
	client    *client
	deviceNum int
	caps      backends.AllocatorCapabilities

	muStats sync.Mutex
	stats   backends.AllocatorStatistics
}

// Compile-time check.
var _ backends.Allocator = (*Allocator)(nil)

func newAllocator(driver *Driver, c *client, deviceNum, maxAllocation int) *Allocator {
	return &Allocator{
		driver:    driver,
		client:    c,
		deviceNum: deviceNum,
		caps: backends.AllocatorCapabilities{
			MemoryTypes:       deviceMemoryTypes,
			Access:            backends.AccessAll,
			Usage:             backends.UsageDefault | backends.UsageMapping,
			MaxAllocationSize: maxAllocation,
		},
	}
}

// Name implements backends.Allocator.
func (a *Allocator) Name() string { return fmt.Sprintf("pjrt-%s-%d", a.client.pluginName, a.deviceNum) }

// Capabilities implements backends.Allocator.
func (a *Allocator) Capabilities() backends.AllocatorCapabilities { return a.caps }

// Statistics implements backends.Allocator.
func (a *Allocator) Statistics() backends.AllocatorStatistics {
	a.muStats.Lock()
	defer a.muStats.Unlock()
	return a.stats
}

// Allocate implements backends.Allocator.
func (a *Allocator) Allocate(params backends.BufferParams, byteLength int) (backends.Buffer, error) {
	if err := a.caps.Check(params, byteLength); err != nil {
		return nil, err
	}
	return a.AllocateWithData(params, make([]byte, byteLength))
}

// AllocateWithData implements backends.Allocator.
func (a *Allocator) AllocateWithData(params backends.BufferParams, data []byte) (backends.Buffer, error) {
	if err := a.caps.Check(params, len(data)); err != nil {
		return nil, err
	}
	pjrtBuffer, err := a.transfer(data)
	if err != nil {
		return nil, err
	}
	a.driver.retainClient(a.client)
	a.muStats.Lock()
	a.stats.BytesLive += int64(len(data))
	a.stats.BytesPeak = max(a.stats.BytesPeak, a.stats.BytesLive)
	a.stats.BuffersLive++
	a.stats.Allocations++
	a.muStats.Unlock()
	return &Buffer{allocator: a, params: params.Normalize(), byteLength: len(data), pjrtBuffer: pjrtBuffer}, nil
}

// transfer copies data to a new device buffer. Empty buffers have no PJRT buffer.
func (a *Allocator) transfer(data []byte) (*pjrt.Buffer, error) {
	if len(data) == 0 {
		return nil, nil
	}
	pjrtBuffer, err := a.client.client.BufferFromHost().
		FromFlatDataWithDimensions(data, []int{len(data)}).
		ToDeviceNum(a.deviceNum).
		Done()
	if err != nil {
		return nil, status.Wrapf(err, status.AllocationFailure, "PJRT plugin %q failed to allocate %d bytes on device #%d",
			a.client.pluginName, len(data), a.deviceNum)
	}
	return pjrtBuffer, nil
}

// Buffer of PJRT device memory.
//
// PJRT buffers are immutable: WriteAt replaces the underlying PJRT buffer.
type Buffer struct {
	allocator  *Allocator
	params     backends.BufferParams
	byteLength int

	mu         sync.Mutex
	pjrtBuffer *pjrt.Buffer
	released   bool
}

// Compile-time check.
var _ backends.Buffer = (*Buffer)(nil)

// ByteLength implements backends.Buffer.
func (b *Buffer) ByteLength() int { return b.byteLength }

// Params implements backends.Buffer.
func (b *Buffer) Params() backends.BufferParams { return b.params }

// Allocator implements backends.Buffer.
func (b *Buffer) Allocator() backends.Allocator { return b.allocator }

func (b *Buffer) lockedCheck(method string, n, offset int) error {
	if b.released {
		exceptions.Panicf("pjrt.Buffer.%s(): buffer of %d bytes already released", method, b.byteLength)
	}
	if offset < 0 || offset+n > b.byteLength {
		return status.Errorf(status.SizeMismatch, "range [%d, %d) out of bounds of buffer of %d bytes", offset, offset+n, b.byteLength)
	}
	return nil
}

// lockedToHost transfers the whole buffer to host memory.
func (b *Buffer) lockedToHost() ([]byte, error) {
	data := make([]byte, b.byteLength)
	if b.pjrtBuffer == nil {
		return data, nil
	}
	if err := b.pjrtBuffer.ToHost(data); err != nil {
		return nil, status.Wrapf(err, status.InvocationFailure, "failed to transfer %d bytes from PJRT device", b.byteLength)
	}
	return data, nil
}

// ReadAt implements backends.Buffer.
func (b *Buffer) ReadAt(dst []byte, offset int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lockedCheck("ReadAt", len(dst), offset); err != nil {
		return err
	}
	if b.params.Access&backends.AccessRead == 0 {
		return status.Errorf(status.UnsupportedParams, "buffer not readable, access=%s", b.params.Access)
	}
	data, err := b.lockedToHost()
	if err != nil {
		return err
	}
	copy(dst, data[offset:])
	return nil
}

// WriteAt implements backends.Buffer.
func (b *Buffer) WriteAt(src []byte, offset int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lockedCheck("WriteAt", len(src), offset); err != nil {
		return err
	}
	if b.params.Access&backends.AccessWrite == 0 {
		return status.Errorf(status.UnsupportedParams, "buffer not writable, access=%s", b.params.Access)
	}
	if len(src) == 0 {
		return nil
	}
	var data []byte
	if offset == 0 && len(src) == b.byteLength {
		data = src
	} else {
		var err error
		data, err = b.lockedToHost()
		if err != nil {
			return err
		}
		copy(data[offset:], src)
	}
	newBuffer, err := b.allocator.transfer(data)
	if err != nil {
		return err
	}
	b.lockedDestroy()
	b.pjrtBuffer = newBuffer
	return nil
}

func (b *Buffer) lockedDestroy() {
	if b.pjrtBuffer == nil {
		return
	}
	if err := b.pjrtBuffer.Destroy(); err != nil {
		klog.Warningf("failed to destroy PJRT buffer: %+v", errors.WithStack(err))
	}
	b.pjrtBuffer = nil
}

// Release implements backends.Buffer. Releasing twice panics.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		exceptions.Panicf("pjrt.Buffer.Release(): buffer of %d bytes released twice", b.byteLength)
	}
	b.released = true
	b.lockedDestroy()
	a := b.allocator
	a.muStats.Lock()
	a.stats.BytesLive -= int64(b.byteLength)
	a.stats.BuffersLive--
	a.stats.Releases++
	a.muStats.Unlock()
	a.driver.releaseClient(a.client)
}
