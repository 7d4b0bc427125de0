// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package localsync implements the "local-sync" driver: command buffers are executed inline, in the
// goroutine that submits them, on the CPU.
//
// It is the simplest driver and never fails to create its device, except for invalid parameters.
// Device URI parameters:
//
//   - max_bytes: limit of memory allocated by the device, e.g. "local-sync://?max_bytes=1GiB".
//   - max_allocation: limit of a single buffer.
//
// Simply import it with import _ "github.com/gomlx/hostrt/backends/localsync" to make it available in your program.
package localsync

import (
	"net/url"
	"sync"

	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/heap"
	"github.com/gomlx/hostrt/internal/cpuinfo"
	"github.com/gomlx/hostrt/internal/workerspool"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// DriverName used in device URIs.
const DriverName = "local-sync"

func init() {
	backends.RegisterDriver(DriverName, New)
}

// Driver implements backends.Driver.
type Driver struct{}

// New returns a new local-sync driver.
func New() (backends.Driver, error) {
	return &Driver{}, nil
}

// Info implements backends.Driver.
func (d *Driver) Info() backends.DriverInfo {
	return backends.DriverInfo{Name: DriverName, Description: "CPU, synchronous inline execution"}
}

// QueryDevices implements backends.Driver. There is only one device, with an empty path.
func (d *Driver) QueryDevices() ([]backends.DeviceInfo, error) {
	return []backends.DeviceInfo{deviceInfo()}, nil
}

func deviceInfo() backends.DeviceInfo {
	return backends.DeviceInfo{Driver: DriverName, Name: cpuinfo.Describe() + ", inline"}
}

// CreateDevice implements backends.Driver.
func (d *Driver) CreateDevice(path string, params url.Values, _ backends.Allocator) (backends.DeviceBackend, error) {
	if path != "" && path != "0" {
		return nil, status.Errorf(status.DeviceUnavailable, "driver %q has only one device, got path %q", DriverName, path)
	}
	config, err := heap.ConfigFromParams(DriverName, params)
	if err != nil {
		return nil, err
	}
	return &Device{allocator: heap.New(config), queue: workerspool.NewInline()}, nil
}

// Destroy implements backends.Driver.
func (d *Driver) Destroy() {}

// Device implements backends.DeviceBackend. Command buffers are executed one at a time.
type Device struct {
	mu        sync.Mutex
	allocator *heap.Allocator
	queue     *workerspool.Pool
}

// Info implements backends.DeviceBackend.
func (d *Device) Info() backends.DeviceInfo { return deviceInfo() }

// Allocator implements backends.DeviceBackend.
func (d *Device) Allocator() backends.Allocator { return d.allocator }

// Submit implements backends.DeviceBackend. It executes cb before returning, so the returned
// future is always resolved.
func (d *Device) Submit(wait *xsync.Future[error], cb *backends.CommandBuffer) *xsync.Future[error] {
	if wait != nil {
		_ = wait.Wait()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if !d.queue.WaitToStart(func() { err = backends.ExecuteOnHost(cb) }) {
		err = status.Errorf(status.DeviceUnavailable, "device %q destroyed before executing %q", DriverName, cb.Label)
	}
	return xsync.Resolved(err)
}

// Destroy implements backends.DeviceBackend.
func (d *Device) Destroy() {
	d.queue.Close()
}
