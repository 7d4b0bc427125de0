// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostrt/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Device is one execution context of a driver, created by Registry.CreateDevice.
//
// It owns exactly one Allocator and one queue, and is safe for concurrent use: it is shared by every
// Session created on it, and it holds no Session specific state.
//
// The creator holds the first reference; the device is destroyed when the last reference is released.
// A Device keeps its driver alive.
type Device struct {
	refs     xsync.RefCount
	uri      DeviceURI
	registry *Registry
	entry    *driverEntry
	backend  DeviceBackend
	inFlight *xsync.InFlight
}

func newDevice(registry *Registry, entry *driverEntry, uri DeviceURI, backend DeviceBackend) *Device {
	d := &Device{
		uri:      uri,
		registry: registry,
		entry:    entry,
		backend:  backend,
		inFlight: xsync.NewInFlight(),
	}
	d.refs.Init("Device(" + uri.String() + ")")
	return d
}

// URI of the device, in canonical form.
func (d *Device) URI() string { return d.uri.String() }

// DriverName returns the name of the driver that created the device.
func (d *Device) DriverName() string { return d.uri.Driver }

// Registry that created the device.
func (d *Device) Registry() *Registry { return d.registry }

// Info describes the device, including its allocator statistics.
func (d *Device) Info() DeviceInfo {
	info := d.backend.Info()
	info.Allocator = d.backend.Allocator().Name()
	info.Statistics = d.backend.Allocator().Statistics()
	return info
}

// Allocator of the device: used for every buffer the device backs.
func (d *Device) Allocator() Allocator { return d.backend.Allocator() }

// Submit enqueues cb on the device queue, ordered after the previous submissions on tl.
//
// It returns a future resolved when cb finished executing: nil on success, or the error of the first
// command that failed.
func (d *Device) Submit(tl *Timeline, cb *CommandBuffer) *xsync.Future[error] {
	if d.refs.IsReleased() {
		exceptions.Panicf("Device(%s).Submit(): device already released", d.uri)
	}
	d.inFlight.Add(1)
	done := tl.submit(d.backend, cb)
	go func() {
		_ = done.Wait()
		d.inFlight.Done()
	}()
	return done
}

// Pending returns the number of submissions not yet completed.
func (d *Device) Pending() int { return d.inFlight.Pending() }

// IsReleased returns whether the last reference to the device was released.
func (d *Device) IsReleased() bool { return d.refs.IsReleased() }

// Retain adds a reference to the device.
func (d *Device) Retain() { d.refs.Retain() }

// Release drops a reference to the device. The last release waits for pending submissions,
// destroys the device and drops its reference to the driver.
//
// Releasing more times than retained panics.
func (d *Device) Release() {
	if !d.refs.Release() {
		return
	}
	d.inFlight.Wait()
	d.backend.Destroy()
	klog.V(1).Infof("device %s destroyed", d.uri)
	d.entry.release()
}
