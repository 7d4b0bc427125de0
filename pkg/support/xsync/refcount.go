// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
)

// RefCount is the reference count of a shared handle.
//
// The zero value is not usable: call Init with the name used in panic messages. The creator of the
// handle holds the first reference. Each Retain must be matched by exactly one Release; the Release
// that brings the count to zero returns true and the caller then destroys the resource.
//
// Releasing more times than retained is a programming error and panics.
type RefCount struct {
	count atomic.Int64
	name  string
}

// Init sets the count to 1, owned by the creator of the handle.
func (r *RefCount) Init(name string) {
	r.name = name
	r.count.Store(1)
}

// Retain adds one reference. It panics if the handle was already destroyed.
func (r *RefCount) Retain() {
	for {
		current := r.count.Load()
		if current <= 0 {
			exceptions.Panicf("%s: Retain() called on a released handle", r.name)
		}
		if r.count.CompareAndSwap(current, current+1) {
			return
		}
	}
}

// Release drops one reference, and returns true if it was the last one.
func (r *RefCount) Release() (last bool) {
	n := r.count.Add(-1)
	if n < 0 {
		exceptions.Panicf("%s: Release() called more times than Retain() (count=%d)", r.name, n)
	}
	return n == 0
}

// Count returns the current number of references. Only meaningful for debugging and tests.
func (r *RefCount) Count() int64 {
	return r.count.Load()
}

// IsReleased returns whether all references were released.
func (r *RefCount) IsReleased() bool {
	return r.count.Load() <= 0
}
