// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package heap implements a backends.Allocator of host memory.
//
// Memory is taken from Go's heap, with 8 bytes alignment, and recycled through pools of size classes,
// so repeated invocations of the same functions don't stress the garbage collector.
// It is the host allocator of the runtime, and the device allocator of the CPU drivers.
package heap

import (
	"math/bits"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/status"
	"k8s.io/klog/v2"
)

// AllMemoryTypes is the set of memory types served by host memory: for CPU devices, host memory is also
// device memory.
const AllMemoryTypes = backends.MemoryTypeHostLocal | backends.MemoryTypeDeviceLocal | backends.MemoryTypeHostVisible |
	backends.MemoryTypeHostCoherent | backends.MemoryTypeHostCached | backends.MemoryTypeDeviceVisible

// Config of an Allocator.
type Config struct {
	// Name of the allocator, for pretty-printing. Defaults to "heap".
	Name string

	// MemoryTypes supported, defaults to AllMemoryTypes.
	MemoryTypes backends.MemoryType

	// MaxBytes limits the total number of bytes allocated at any time, 0 for no limit.
	MaxBytes int64

	// MaxAllocationSize limits the size of one buffer, 0 for no limit.
	MaxAllocationSize int
}

// Allocator of host memory. It is safe for concurrent use.
type Allocator struct {
	name     string
	caps     backends.AllocatorCapabilities
	maxBytes int64

	// pools of *[]uint64, indexed by size class.
	pools [numSizeClasses]sync.Pool

	muStats sync.Mutex
	stats   backends.AllocatorStatistics
}

// Compile-time check.
var _ backends.Allocator = (*Allocator)(nil)

// Size classes are powers of 2 number of 8 bytes words, from minClassLog2 to maxClassLog2.
// Larger allocations are not pooled.
const (
	minClassLog2   = 5  // 256 bytes
	maxClassLog2   = 22 // 32MiB
	numSizeClasses = maxClassLog2 - minClassLog2 + 1
)

// sizeClass returns the pool index for a buffer of numWords, or -1 if it is too large to be pooled.
func sizeClass(numWords int) int {
	if numWords <= 1<<minClassLog2 {
		return 0
	}
	log2 := bits.Len(uint(numWords - 1))
	if log2 > maxClassLog2 {
		return -1
	}
	return log2 - minClassLog2
}

// New creates a new heap allocator with the given configuration.
func New(config Config) *Allocator {
	if config.Name == "" {
		config.Name = "heap"
	}
	if config.MemoryTypes == backends.MemoryTypeOptimal {
		config.MemoryTypes = AllMemoryTypes
	}
	a := &Allocator{
		name: config.Name,
		caps: backends.AllocatorCapabilities{
			MemoryTypes:       config.MemoryTypes,
			Access:            backends.AccessAll,
			Usage:             backends.UsageDefault | backends.UsageMapping,
			MaxAllocationSize: config.MaxAllocationSize,
		},
		maxBytes: config.MaxBytes,
	}
	for ii := range a.pools {
		numWords := 1 << (ii + minClassLog2)
		a.pools[ii].New = func() any {
			words := make([]uint64, numWords)
			return &words
		}
	}
	return a
}

// NewHost returns the default host allocator, without limits.
func NewHost() *Allocator {
	return New(Config{Name: "host"})
}

// Name implements backends.Allocator.
func (a *Allocator) Name() string { return a.name }

// Capabilities implements backends.Allocator.
func (a *Allocator) Capabilities() backends.AllocatorCapabilities { return a.caps }

// Statistics implements backends.Allocator.
func (a *Allocator) Statistics() backends.AllocatorStatistics {
	a.muStats.Lock()
	defer a.muStats.Unlock()
	return a.stats
}

// Allocate implements backends.Allocator: it returns a zero-initialized buffer.
func (a *Allocator) Allocate(params backends.BufferParams, byteLength int) (backends.Buffer, error) {
	buf, err := a.allocate(params, byteLength)
	if err != nil {
		return nil, err
	}
	clear(buf.data)
	return buf, nil
}

// AllocateWithData implements backends.Allocator.
func (a *Allocator) AllocateWithData(params backends.BufferParams, data []byte) (backends.Buffer, error) {
	buf, err := a.allocate(params, len(data))
	if err != nil {
		return nil, err
	}
	copy(buf.data, data)
	return buf, nil
}

func (a *Allocator) allocate(params backends.BufferParams, byteLength int) (*Buffer, error) {
	if err := a.caps.Check(params, byteLength); err != nil {
		return nil, err
	}
	if err := a.reserve(int64(byteLength)); err != nil {
		return nil, err
	}
	buf := &Buffer{allocator: a, params: params.Normalize()}
	numWords := (byteLength + 7) / 8
	buf.class = sizeClass(numWords)
	if buf.class >= 0 {
		buf.words = a.pools[buf.class].Get().(*[]uint64)
	} else {
		words := make([]uint64, numWords)
		buf.words = &words
	}
	buf.data = wordsAsBytes(*buf.words)[:byteLength]
	return buf, nil
}

// reserve accounts for a new buffer of n bytes, failing if it exceeds MaxBytes.
func (a *Allocator) reserve(n int64) error {
	a.muStats.Lock()
	defer a.muStats.Unlock()
	if a.maxBytes > 0 && a.stats.BytesLive+n > a.maxBytes {
		return status.Errorf(status.AllocationFailure, "allocator %q out of memory: %s requested, %s of %s in use",
			a.name, humanize.IBytes(uint64(n)), humanize.IBytes(uint64(a.stats.BytesLive)), humanize.IBytes(uint64(a.maxBytes)))
	}
	a.stats.BytesLive += n
	a.stats.BytesPeak = max(a.stats.BytesPeak, a.stats.BytesLive)
	a.stats.BuffersLive++
	a.stats.Allocations++
	return nil
}

// free returns the memory of buf to the pools.
func (a *Allocator) free(buf *Buffer) {
	a.muStats.Lock()
	a.stats.BytesLive -= int64(len(buf.data))
	a.stats.BuffersLive--
	a.stats.Releases++
	a.muStats.Unlock()
	if buf.class >= 0 {
		a.pools[buf.class].Put(buf.words)
	}
	if klog.V(2).Enabled() {
		klog.Infof("allocator %q: released %s", a.name, humanize.IBytes(uint64(len(buf.data))))
	}
}
