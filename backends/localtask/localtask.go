// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package localtask implements the "local-task" driver: command buffers are executed asynchronously on
// a bounded pool of goroutines, on the CPU.
//
// Command buffers of different timelines (Sessions) run concurrently; the ones of the same timeline run
// in submission order. Device URI parameters:
//
//   - workers: maximum number of command buffers executing at the same time, defaults to runtime.NumCPU().
//   - max_bytes: limit of memory allocated by the device, e.g. "local-task://?workers=4&max_bytes=1GiB".
//   - max_allocation: limit of a single buffer.
//
// Simply import it with import _ "github.com/gomlx/hostrt/backends/localtask" to make it available in your program.
package localtask

import (
	"fmt"
	"net/url"
	"runtime"

	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/heap"
	"github.com/gomlx/hostrt/internal/cpuinfo"
	"github.com/gomlx/hostrt/internal/workerspool"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// DriverName used in device URIs.
const DriverName = "local-task"

func init() {
	backends.RegisterDriver(DriverName, New)
}

// Driver implements backends.Driver.
type Driver struct{}

// New returns a new local-task driver.
func New() (backends.Driver, error) {
	return &Driver{}, nil
}

// Info implements backends.Driver.
func (d *Driver) Info() backends.DriverInfo {
	return backends.DriverInfo{Name: DriverName, Description: "CPU, asynchronous execution on a pool of workers"}
}

// QueryDevices implements backends.Driver. There is only one device, with an empty path.
func (d *Driver) QueryDevices() ([]backends.DeviceInfo, error) {
	return []backends.DeviceInfo{{Driver: DriverName, Name: deviceName(runtime.NumCPU())}}, nil
}

func deviceName(workers int) string {
	return fmt.Sprintf("%s, %d workers", cpuinfo.Describe(), workers)
}

// CreateDevice implements backends.Driver.
func (d *Driver) CreateDevice(path string, params url.Values, _ backends.Allocator) (backends.DeviceBackend, error) {
	if path != "" && path != "0" {
		return nil, status.Errorf(status.DeviceUnavailable, "driver %q has only one device, got path %q", DriverName, path)
	}
	workers, err := backends.IntParam(params, "workers", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		return nil, status.Errorf(status.DeviceUnavailable, "driver %q requires workers > 0, got %d", DriverName, workers)
	}
	config, err := heap.ConfigFromParams(DriverName, params)
	if err != nil {
		return nil, err
	}
	return &Device{
		allocator: heap.New(config),
		pool:      workerspool.New(workers),
	}, nil
}

// Destroy implements backends.Driver.
func (d *Driver) Destroy() {}

// Device implements backends.DeviceBackend.
type Device struct {
	allocator *heap.Allocator
	pool      *workerspool.Pool
}

// Info implements backends.DeviceBackend.
func (d *Device) Info() backends.DeviceInfo {
	return backends.DeviceInfo{Driver: DriverName, Name: deviceName(d.pool.MaxParallelism())}
}

// Allocator implements backends.DeviceBackend.
func (d *Device) Allocator() backends.Allocator { return d.allocator }

// Submit implements backends.DeviceBackend. It returns immediately.
func (d *Device) Submit(wait *xsync.Future[error], cb *backends.CommandBuffer) *xsync.Future[error] {
	done := xsync.NewFuture[error]()
	go func() {
		if wait != nil {
			_ = wait.Wait()
		}
		started := d.pool.WaitToStart(func() {
			done.Resolve(backends.ExecuteOnHost(cb))
		})
		if !started {
			done.Resolve(status.Errorf(status.DeviceUnavailable, "device %q destroyed before executing %q", DriverName, cb.Label))
		}
	}()
	return done
}

// Destroy implements backends.DeviceBackend.
func (d *Device) Destroy() {
	d.pool.Close()
}
