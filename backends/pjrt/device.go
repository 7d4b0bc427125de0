// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pjrt

import (
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/internal/workerspool"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// Device implements backends.DeviceBackend for one addressable device of a PJRT client.
//
// Its queue executes one command buffer at a time, in a single worker.
type Device struct {
	driver    *Driver
	client    *client
	deviceNum int
	allocator *Allocator
	queue     *workerspool.Pool
}

func newDevice(driver *Driver, c *client, deviceNum, maxAllocation int) *Device {
	d := &Device{
		driver:    driver,
		client:    c,
		deviceNum: deviceNum,
		queue:     workerspool.New(1),
	}
	d.allocator = newAllocator(driver, c, deviceNum, maxAllocation)
	return d
}

// Info implements backends.DeviceBackend.
func (d *Device) Info() backends.DeviceInfo { return d.client.deviceInfo(d.deviceNum) }

// Allocator implements backends.DeviceBackend.
func (d *Device) Allocator() backends.Allocator { return d.allocator }

// Submit implements backends.DeviceBackend. It returns immediately.
func (d *Device) Submit(wait *xsync.Future[error], cb *backends.CommandBuffer) *xsync.Future[error] {
	done := xsync.NewFuture[error]()
	go func() {
		if wait != nil {
			_ = wait.Wait()
		}
		started := d.queue.WaitToStart(func() {
			done.Resolve(backends.ExecuteOnHost(cb))
		})
		if !started {
			done.Resolve(status.Errorf(status.DeviceUnavailable, "PJRT device %s destroyed before executing %q",
				d.Info().URI(), cb.Label))
		}
	}()
	return done
}

// Destroy implements backends.DeviceBackend.
func (d *Device) Destroy() {
	d.queue.Close()
	d.driver.releaseClient(d.client)
}
