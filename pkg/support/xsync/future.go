// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization tools used by the runtime: futures for asynchronous
// device work, reference counts for shared handles and an in-flight work tracker.
package xsync

import "sync"

// Future holds a value that becomes available once, when the future is resolved.
//
// It can be waited on by any number of goroutines. Once resolved it never changes: later calls
// to Resolve are ignored.
type Future[T any] struct {
	mu    sync.Mutex
	value T
	done  chan struct{}
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with value.
func Resolved[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value)
	return f
}

// Resolve sets the value and wakes up all waiters.
// It returns false if the future had already been resolved, in which case value is discarded.
func (f *Future[T]) Resolve(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsResolved() {
		return false
	}
	f.value = value
	close(f.done)
	return true
}

// Wait blocks until the future is resolved and returns its value.
func (f *Future[T]) Wait() T {
	<-f.done
	return f.value
}

// IsResolved returns whether the future has been resolved, without blocking.
func (f *Future[T]) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the future is resolved, to be used in a `select`.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Then returns a new future resolved with fn applied to the value of f.
// fn runs in its own goroutine once f resolves.
func Then[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	next := NewFuture[U]()
	go func() {
		next.Resolve(fn(f.Wait()))
	}()
	return next
}
