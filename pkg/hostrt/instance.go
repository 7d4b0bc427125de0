// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostrt

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/heap"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// InstanceOptions configures NewInstance.
type InstanceOptions struct {
	// Drivers to instantiate, by name. If empty, every driver compiled in is instantiated, and drivers
	// that fail to initialize are skipped.
	Drivers []string

	// HostAllocator configures the allocator of host memory used for staging.
	HostAllocator heap.Config
}

// UseAllAvailableDrivers returns a copy of the options without restrictions on the drivers.
func (o InstanceOptions) UseAllAvailableDrivers() InstanceOptions {
	o.Drivers = nil
	return o
}

// Instance is the root handle of the runtime: it owns the registry of drivers and the host allocator.
//
// It is safe for concurrent use. Sessions retain their Instance, so it outlives them.
type Instance struct {
	refs          xsync.RefCount
	registry      *backends.Registry
	hostAllocator *heap.Allocator
}

// NewInstance creates an Instance with the drivers selected by options.
//
// It returns a DriverInitFailure if a requested driver is not compiled in or fails to initialize,
// or if no driver could be instantiated.
func NewInstance(options InstanceOptions) (*Instance, error) {
	registry := backends.NewRegistry()
	if err := registry.RegisterAvailable(options.Drivers...); err != nil {
		registry.Close()
		return nil, status.Wrapf(err, status.DriverInitFailure, "creating instance")
	}
	hostConfig := options.HostAllocator
	if hostConfig.Name == "" {
		hostConfig.Name = "host"
	}
	i := &Instance{
		registry:      registry,
		hostAllocator: heap.New(hostConfig),
	}
	i.refs.Init("Instance")
	klog.V(1).Infof("instance created with drivers %v", registry.Drivers())
	return i, nil
}

// MustNewInstance creates an Instance with all available drivers, and panics on failure.
func MustNewInstance() *Instance {
	i, err := NewInstance(InstanceOptions{})
	if err != nil {
		panic(err)
	}
	return i
}

func (i *Instance) assertValid(method string) {
	if i == nil || i.refs.IsReleased() {
		exceptions.Panicf("Instance.%s(): instance is nil or released", method)
	}
}

// DriverRegistry returns the registry of the drivers of the instance.
func (i *Instance) DriverRegistry() *backends.Registry {
	i.assertValid("DriverRegistry")
	return i.registry
}

// HostAllocator returns the allocator of host memory.
func (i *Instance) HostAllocator() backends.Allocator {
	i.assertValid("HostAllocator")
	return i.hostAllocator
}

// CreateDevice creates the device selected by uri, see backends.ParseDeviceURI.
//
// Failures (UnknownBackend, DeviceUnavailable) leave the instance usable.
// The caller owns the returned device and must Release it.
func (i *Instance) CreateDevice(uri string) (*backends.Device, error) {
	i.assertValid("CreateDevice")
	return i.registry.CreateDevice(uri, i.hostAllocator)
}

// CreateDefaultDevice creates the device selected by backends.DefaultDevice: the environment variable
// HOSTRT_DEVICE, else backends.DefaultDeviceURI, else the default device of the first registered driver.
func (i *Instance) CreateDefaultDevice() (*backends.Device, error) {
	return i.CreateDevice(backends.DefaultDevice())
}

// IsReleased returns whether the last reference to the instance was released.
func (i *Instance) IsReleased() bool { return i.refs.IsReleased() }

// Retain adds a reference to the instance.
func (i *Instance) Retain() { i.refs.Retain() }

// Release drops a reference to the instance. The last release closes the driver registry: drivers are
// destroyed once their devices are released.
func (i *Instance) Release() {
	if !i.refs.Release() {
		return
	}
	i.registry.Close()
	klog.V(1).Infof("instance destroyed")
}
