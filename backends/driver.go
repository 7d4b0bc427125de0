// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"net/url"

	"github.com/gomlx/hostrt/pkg/support/xsync"
)

// Driver is the API a backend implementation provides to the runtime.
//
// Drivers must be safe for concurrent use.
type Driver interface {
	// Info returns the name and description of the driver.
	Info() DriverInfo

	// QueryDevices lists the devices the driver can create. An empty path selects the first one.
	QueryDevices() ([]DeviceInfo, error)

	// CreateDevice creates the device selected by path, configured by the URI query params.
	//
	// hostAllocator is the allocator of host memory the device can use for staging.
	// Missing hardware should be reported with a status.DeviceUnavailable error.
	CreateDevice(path string, params url.Values, hostAllocator Allocator) (DeviceBackend, error)

	// Destroy releases the resources of the driver. It is only called once no device of the driver is alive.
	Destroy()
}

// DriverInfo describes a Driver.
type DriverInfo struct {
	// Name of the driver, used as the scheme of device URIs. E.g.: "local-sync".
	Name string

	// Description is a longer description of the Driver that can be used to pretty-print.
	Description string
}

// DeviceInfo describes a device of a driver.
type DeviceInfo struct {
	// Driver name.
	Driver string

	// Path selecting the device in a device URI: "driver://path".
	Path string

	// Name is a human-readable description of the device.
	Name string

	// Allocator is the name of the device allocator, and Statistics its usage, when the device was created.
	Allocator  string
	Statistics AllocatorStatistics
}

// URI returns the device URI that selects this device.
func (info DeviceInfo) URI() string {
	return DeviceURI{Driver: info.Driver, Path: info.Path}.String()
}

// DeviceBackend is the driver side of a Device.
//
// The runtime wraps it in a Device, which takes care of reference counting and timelines.
type DeviceBackend interface {
	// Info describes the device.
	Info() DeviceInfo

	// Allocator used for every buffer of the device.
	Allocator() Allocator

	// Submit enqueues cb for execution once wait (if not nil) is resolved, regardless of the value of wait.
	// It returns a future resolved with the result of the execution: nil or the error of the first failed command.
	//
	// Asynchronous drivers return before cb executes; synchronous drivers may execute it inline.
	Submit(wait *xsync.Future[error], cb *CommandBuffer) *xsync.Future[error]

	// Destroy releases the device resources. It is called once, after all submissions completed.
	Destroy()
}
