// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// InFlight counts pending work items and allows waiting for all of them to finish.
//
// Unlike sync.WaitGroup, new items can be added while someone is waiting: Wait returns the
// first time the count drops to zero.
type InFlight struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewInFlight creates a new InFlight counter.
func NewInFlight() *InFlight {
	f := &InFlight{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Add changes the counter by delta. It panics if the counter would go negative.
func (f *InFlight) Add(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count += int64(delta)
	if f.count < 0 {
		panic(errors.Errorf("xsync.InFlight: negative counter"))
	}
	if f.count == 0 {
		f.cond.Broadcast()
	}
}

// Done marks one item as finished.
func (f *InFlight) Done() {
	f.Add(-1)
}

// Pending returns the number of items not yet finished.
func (f *InFlight) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.count)
}

// Wait blocks until there are no pending items.
func (f *InFlight) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.count > 0 {
		f.cond.Wait()
	}
}
