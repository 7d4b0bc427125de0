// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "strings"

// MemoryType is a bit set describing where a buffer lives and how the host can see it.
type MemoryType uint32

const (
	// MemoryTypeOptimal lets the allocator pick the best memory type for the usage.
	MemoryTypeOptimal MemoryType = 0

	MemoryTypeHostLocal MemoryType = 1 << (iota - 1)
	MemoryTypeDeviceLocal
	MemoryTypeHostVisible
	MemoryTypeHostCoherent
	MemoryTypeHostCached
	MemoryTypeDeviceVisible
)

// MemoryAccess is a bit set of the operations allowed on a buffer's memory.
type MemoryAccess uint32

const (
	AccessNone MemoryAccess = 0
	AccessRead MemoryAccess = 1 << (iota - 1)
	AccessWrite
	AccessDiscard
	AccessAll = AccessRead | AccessWrite | AccessDiscard
)

// BufferUsage is a bit set of the intended uses of a buffer.
type BufferUsage uint32

const (
	UsageNone           BufferUsage = 0
	UsageTransferSource BufferUsage = 1 << (iota - 1)
	UsageTransferTarget
	UsageDispatchStorage
	UsageMapping

	UsageTransfer = UsageTransferSource | UsageTransferTarget

	// UsageDefault is the usage of buffers passed to and returned from calls.
	UsageDefault = UsageTransfer | UsageDispatchStorage
)

// BufferParams describes how a buffer is allocated.
type BufferParams struct {
	// Type of memory to allocate, MemoryTypeOptimal if left empty.
	Type MemoryType

	// Access allowed to the memory. AccessNone is interpreted as AccessAll.
	Access MemoryAccess

	// Usage intended. UsageNone is interpreted as UsageDefault.
	Usage BufferUsage
}

// DefaultParams are the parameters of buffers the runtime allocates for call results.
var DefaultParams = BufferParams{Type: MemoryTypeDeviceLocal, Access: AccessAll, Usage: UsageDefault | UsageMapping}

// Normalize fills in the defaults of unset fields.
func (p BufferParams) Normalize() BufferParams {
	if p.Access == AccessNone {
		p.Access = AccessAll
	}
	if p.Usage == UsageNone {
		p.Usage = UsageDefault
	}
	return p
}

func flagsString(value uint32, names []string) string {
	if value == 0 {
		return "NONE"
	}
	var parts []string
	for bit, name := range names {
		if value&(1<<bit) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// String implements fmt.Stringer.
func (t MemoryType) String() string {
	if t == MemoryTypeOptimal {
		return "OPTIMAL"
	}
	return flagsString(uint32(t), []string{"HOST_LOCAL", "DEVICE_LOCAL", "HOST_VISIBLE", "HOST_COHERENT", "HOST_CACHED", "DEVICE_VISIBLE"})
}

// String implements fmt.Stringer.
func (a MemoryAccess) String() string {
	return flagsString(uint32(a), []string{"READ", "WRITE", "DISCARD"})
}

// String implements fmt.Stringer.
func (u BufferUsage) String() string {
	return flagsString(uint32(u), []string{"TRANSFER_SOURCE", "TRANSFER_TARGET", "DISPATCH_STORAGE", "MAPPING"})
}
