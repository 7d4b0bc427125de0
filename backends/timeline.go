// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"

	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// Timeline is an ordering domain on device queues: command buffers submitted on the same timeline
// execute in submission order. There is no ordering between different timelines.
//
// Each Session owns one timeline. If a command buffer marked MutatesState fails, the timeline is
// poisoned: every later submission on it fails without executing, since the state it would observe
// is undefined.
//
// A Timeline is safe for concurrent use.
type Timeline struct {
	name string

	// submitMu serializes submissions; mu protects the fields below.
	submitMu sync.Mutex
	mu       sync.Mutex
	last     *xsync.Future[error]
	poisoned error
}

// NewTimeline creates a new, empty timeline. The name is used in error messages.
func NewTimeline(name string) *Timeline {
	return &Timeline{name: name}
}

// Name of the timeline.
func (tl *Timeline) Name() string { return tl.name }

// Err returns the error that poisoned the timeline, or nil.
func (tl *Timeline) Err() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.poisoned
}

// Wait blocks until every submission on the timeline completed, and returns the result of the last one.
func (tl *Timeline) Wait() error {
	tl.mu.Lock()
	last := tl.last
	tl.mu.Unlock()
	if last == nil {
		return nil
	}
	return last.Wait()
}

// check is prepended to every submission. It runs after all previous submissions of the timeline completed.
func (tl *Timeline) check() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.poisoned != nil {
		return status.Wrapf(tl.poisoned, status.InvocationFailure, "timeline %q poisoned by an earlier failure", tl.name)
	}
	return nil
}

// submit enqueues cb with the given device backend, chained after the previous submission.
func (tl *Timeline) submit(backend DeviceBackend, cb *CommandBuffer) *xsync.Future[error] {
	guarded := &CommandBuffer{
		Label:        cb.Label,
		MutatesState: cb.MutatesState,
		Commands:     make([]*Command, 0, len(cb.Commands)+1),
	}
	guarded.HostCall("timeline-check", tl.check)
	guarded.Commands = append(guarded.Commands, cb.Commands...)

	tl.submitMu.Lock()
	defer tl.submitMu.Unlock()
	tl.mu.Lock()
	previous := tl.last
	tl.mu.Unlock()
	done := backend.Submit(previous, guarded)
	result := xsync.Then(done, func(err error) error {
		if err != nil && cb.MutatesState {
			tl.mu.Lock()
			if tl.poisoned == nil {
				tl.poisoned = err
			}
			tl.mu.Unlock()
		}
		return err
	})
	tl.mu.Lock()
	tl.last = result
	tl.mu.Unlock()
	return result
}
