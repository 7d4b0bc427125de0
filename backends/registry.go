// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"slices"
	"sync"

	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Registry is the catalog of instantiated drivers, and the factory of Devices.
//
// It is safe for concurrent use. Drivers are destroyed once the registry is closed and no Device
// created from them is alive.
type Registry struct {
	mu      sync.RWMutex
	entries []*driverEntry
	byName  map[string]*driverEntry
	closed  bool
}

// driverEntry holds one reference for the registry, and one for each live Device of the driver.
type driverEntry struct {
	driver Driver
	info   DriverInfo
	refs   xsync.RefCount
}

func (e *driverEntry) release() {
	if e.refs.Release() {
		e.driver.Destroy()
		klog.V(1).Infof("driver %q destroyed", e.info.Name)
	}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*driverEntry)}
}

// Register adds an instantiated driver to the registry, which takes ownership of it.
// The first driver registered is the default one.
func (r *Registry) Register(driver Driver) error {
	info := driver.Info()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return status.Errorf(status.DriverInitFailure, "registry closed, can't register driver %q", info.Name)
	}
	if _, found := r.byName[info.Name]; found {
		return status.Errorf(status.DriverInitFailure, "driver %q registered twice", info.Name)
	}
	entry := &driverEntry{driver: driver, info: info}
	entry.refs.Init("Driver(" + info.Name + ")")
	r.entries = append(r.entries, entry)
	r.byName[info.Name] = entry
	klog.V(1).Infof("driver %q registered: %s", info.Name, info.Description)
	return nil
}

// RegisterAvailable instantiates and registers the named drivers, or all drivers compiled in (see
// RegisterDriver) if no names are given.
//
// It returns a DriverInitFailure if a named driver is not compiled in or fails to initialize.
// When registering all drivers, drivers that fail to initialize are logged and skipped, and it only
// fails if none could be registered.
func (r *Registry) RegisterAvailable(names ...string) error {
	if len(names) > 0 {
		for _, name := range names {
			driver, err := NewDriver(name)
			if err != nil {
				return err
			}
			if err = r.Register(driver); err != nil {
				driver.Destroy()
				return err
			}
		}
		return nil
	}
	var firstErr error
	for _, name := range AvailableDrivers() {
		driver, err := NewDriver(name)
		if err == nil {
			err = r.Register(driver)
			if err != nil {
				driver.Destroy()
			}
		}
		if err != nil {
			klog.Warningf("skipping driver %q: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if r.Len() == 0 {
		if firstErr != nil {
			return firstErr
		}
		return status.Errorf(status.DriverInitFailure, "no drivers compiled in -- maybe import \"github.com/gomlx/hostrt/backends/default\"?")
	}
	return nil
}

// Len returns the number of registered drivers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Drivers returns the description of the registered drivers, in registration order.
func (r *Registry) Drivers() []DriverInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]DriverInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	return infos
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.byName[name]
	if !found {
		return nil, false
	}
	return e.driver, true
}

// DefaultDriver returns the name of the first registered driver, or "" if the registry is empty.
func (r *Registry) DefaultDriver() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[0].info.Name
}

// QueryDevices lists the devices of every registered driver. Drivers that fail to list
// their devices are logged and skipped.
func (r *Registry) QueryDevices() []DeviceInfo {
	r.mu.RLock()
	entries := slices.Clone(r.entries)
	r.mu.RUnlock()
	var devices []DeviceInfo
	for _, e := range entries {
		driverDevices, err := e.driver.QueryDevices()
		if err != nil {
			klog.Warningf("driver %q failed to list devices: %v", e.info.Name, err)
			continue
		}
		devices = append(devices, driverDevices...)
	}
	return devices
}

// CreateDevice creates the device selected by uri (see ParseDeviceURI). An empty uri selects
// the default device of the default driver.
//
// hostAllocator is handed to the driver for staging memory.
//
// It returns an UnknownBackend error if no registered driver matches the URI, and a DeviceUnavailable
// (or DriverInitFailure) error if the driver can't create the device. Failures don't affect the
// registry, which remains usable.
func (r *Registry) CreateDevice(uri string, hostAllocator Allocator) (*Device, error) {
	parsed, err := ParseDeviceURI(uri)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, status.Errorf(status.DriverInitFailure, "registry closed, can't create device %q", uri)
	}
	if parsed.Driver == "" {
		if len(r.entries) == 0 {
			r.mu.RUnlock()
			return nil, status.Errorf(status.UnknownBackend, "no drivers registered, can't create default device")
		}
		parsed.Driver = r.entries[0].info.Name
	}
	entry, found := r.byName[parsed.Driver]
	if found {
		entry.refs.Retain()
	}
	r.mu.RUnlock()
	if !found {
		return nil, status.Errorf(status.UnknownBackend, "unknown driver %q for device %q, registered drivers: %q",
			parsed.Driver, uri, r.driverNames())
	}

	backend, err := entry.driver.CreateDevice(parsed.Path, parsed.Params, hostAllocator)
	if err != nil {
		entry.release()
		if status.CodeOf(err) == status.Unknown {
			err = status.Wrapf(err, status.DeviceUnavailable, "driver %q failed to create device %q", parsed.Driver, uri)
		}
		return nil, err
	}
	d := newDevice(r, entry, parsed, backend)
	klog.V(1).Infof("device %s created: %s", d.URI(), backend.Info().Name)
	return d, nil
}

func (r *Registry) driverNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.info.Name)
	}
	return names
}

// Close drops the registry references to its drivers. Each driver is destroyed immediately if
// it has no live devices, or when its last device is released.
//
// Closing a closed registry is a no-op.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.mu.Unlock()
	for _, e := range entries {
		e.release()
	}
}
