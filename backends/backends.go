// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interfaces a driver needs to implement to execute work for the runtime,
// and the Registry of drivers from which Devices are created.
//
// A Driver is a pluggable capability provider (a CPU executor, a PJRT plugin, ...). Drivers compiled into
// the binary register a factory during package initialization with RegisterDriver; the runtime then builds
// an explicit Registry with the drivers it wants (see NewRegistry and Registry.RegisterAvailable).
//
// A Device is one execution context of a driver: it owns exactly one Allocator and one queue, to which
// CommandBuffers are submitted on a Timeline. Submissions on the same timeline execute in order; failures
// are reported through the returned future.
//
// Fallible operations return errors tagged with a status.Code (see package pkg/status). Programming
// errors, like releasing a handle twice, panic with a stack trace (see package github.com/gomlx/exceptions).
package backends

import (
	"os"
	"slices"
	"sync"

	"github.com/gomlx/hostrt/pkg/status"
)

// DriverFactory creates a new instance of a driver.
type DriverFactory func() (Driver, error)

var (
	muFactories         sync.Mutex
	registeredFactories = make(map[string]DriverFactory)
	factoriesOrder      []string
)

// RegisterDriver makes a driver available to be instantiated by name. The first driver registered is
// the default one.
//
// To be safe, call RegisterDriver during initialization of a package.
func RegisterDriver(name string, factory DriverFactory) {
	muFactories.Lock()
	defer muFactories.Unlock()
	if _, found := registeredFactories[name]; !found {
		factoriesOrder = append(factoriesOrder, name)
	}
	registeredFactories[name] = factory
}

// AvailableDrivers returns the names of the drivers compiled in, in registration order.
func AvailableDrivers() []string {
	muFactories.Lock()
	defer muFactories.Unlock()
	return slices.Clone(factoriesOrder)
}

// NewDriver instantiates the driver registered under name.
// It returns a DriverInitFailure if no such driver was compiled in, or if the driver fails to initialize.
func NewDriver(name string) (Driver, error) {
	muFactories.Lock()
	factory, found := registeredFactories[name]
	muFactories.Unlock()
	if !found {
		return nil, status.Errorf(status.DriverInitFailure, "driver %q not compiled in, available drivers: %q -- maybe import \"github.com/gomlx/hostrt/backends/default\"?",
			name, AvailableDrivers())
	}
	driver, err := factory()
	if err != nil {
		if status.CodeOf(err) == status.Unknown {
			err = status.Wrapf(err, status.DriverInitFailure, "failed to initialize driver %q", name)
		}
		return nil, err
	}
	return driver, nil
}

// DefaultDeviceURI is the device selector used by the runtime when none is given, if set.
//
// See DefaultDevice for the order in which the default is chosen.
var DefaultDeviceURI string

// HOSTRT_DEVICE is the environment variable with the default device selector to use.
//
// The format is a device URI, e.g. "local-task://?workers=4" or "pjrt://cuda". See ParseDeviceURI.
const HOSTRT_DEVICE = "HOSTRT_DEVICE"

// DefaultDevice returns the device selector to use when none is given:
//
// 1. The environment variable HOSTRT_DEVICE if defined.
// 2. Next the variable DefaultDeviceURI, if defined.
// 3. An empty selector, which selects the first driver of the registry.
func DefaultDevice() string {
	if uri, found := os.LookupEnv(HOSTRT_DEVICE); found {
		return uri
	}
	return DefaultDeviceURI
}
