// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements the bounded pool of goroutines that executes device work.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, keeping at most maxParallelism of them running at a time.
//
// A maxParallelism of 0 disables parallelism (tasks run inline), and a negative value means unlimited.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning decreases.
	numRunning     int
	closed         bool
}

// New returns a new Pool with the given parallelism. If maxParallelism is 0 it uses runtime.NumCPU().
func New(maxParallelism int) *Pool {
	p := &Pool{maxParallelism: maxParallelism}
	if p.maxParallelism == 0 {
		p.maxParallelism = runtime.NumCPU()
	}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// NewInline returns a Pool that runs every task inline, in the caller's goroutine.
func NewInline() *Pool {
	p := &Pool{}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the limit of tasks running at the same time: 0 means inline, -1 means unlimited.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// IsInline returns whether tasks are executed in the caller's goroutine.
func (p *Pool) IsInline() bool {
	return p.maxParallelism == 0
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// WaitToStart waits until there is a worker available and starts task in it.
// It returns once the task started, not when it finished.
//
// If the pool is inline, it runs the task and returns when it is finished.
// It returns false if the pool was closed, in which case the task is not run.
func (p *Pool) WaitToStart(task func()) bool {
	if p.IsInline() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return false
		}
		task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.lockedIsFull() {
		p.cond.Wait()
	}
	if p.closed {
		return false
	}
	p.lockedRunTaskInGoroutine(task)
	return true
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found a worker to run the function, false otherwise.
//
// It's up to the caller to synchronize the end of the function execution.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsInline() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.lockedIsFull() {
		return false
	}
	p.lockedRunTaskInGoroutine(task)
	return true
}

// lockedRunTaskInGoroutine and keep tabs on numRunning.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Broadcast()
			p.mu.Unlock()
		}()
		task()
	}()
}

// Running returns the number of tasks currently running.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// Close stops accepting tasks and waits for the running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for p.numRunning > 0 {
		p.cond.Wait()
	}
	p.cond.Broadcast()
}
