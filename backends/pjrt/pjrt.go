// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pjrt implements the "pjrt" driver, backed by a PJRT plugin (https://openxla.org/) through
// github.com/gomlx/gopjrt.
//
// Device URIs select the plugin and the device number: "pjrt://cuda?device=1", "pjrt:cpu" or simply
// "pjrt" for the first available plugin, in the order of DefaultPlugins.
// Buffers live in the device memory; kernels are executed with the host kernels, staging
// operands through host memory.
//
// Plugins are searched in the PJRT_PLUGIN_LIBRARY_PATH directory, see pjrt.AvailablePlugins.
// Missing plugins or devices are reported as status.DeviceUnavailable.
//
// Simply import it with import _ "github.com/gomlx/hostrt/backends/pjrt" to make it available in your program.
package pjrt

import (
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DriverName used in device URIs.
const DriverName = "pjrt"

func init() {
	backends.RegisterDriver(DriverName, New)
}

var (
	// DefaultPlugins is the list of plugins to use in preference order, if not otherwise specified.
	DefaultPlugins = []string{"cuda", "cpu"}

	muPlugins            sync.Mutex
	availablePluginsList []string
)

// GetAvailablePlugins lists the available plugins: the DefaultPlugins first, then the others sorted
// by name. The result is cached.
func GetAvailablePlugins() []string {
	muPlugins.Lock()
	defer muPlugins.Unlock()
	if len(availablePluginsList) > 0 {
		return availablePluginsList
	}
	pluginsMap := pjrt.AvailablePlugins()
	var others []string
	for name := range pluginsMap {
		if !slices.Contains(DefaultPlugins, name) {
			others = append(others, name)
		}
	}
	slices.Sort(others)
	for _, name := range DefaultPlugins {
		if _, found := pluginsMap[name]; found {
			availablePluginsList = append(availablePluginsList, name)
		}
	}
	availablePluginsList = append(availablePluginsList, others...)
	return availablePluginsList
}

// Driver implements backends.Driver. Plugins and clients are loaded on demand, and shared by the
// devices of the same plugin.
type Driver struct {
	mu      sync.Mutex
	clients map[string]*client
}

// client is a PJRT client shared by the devices of a plugin and by the buffers they allocated.
type client struct {
	pluginName string
	plugin     *pjrt.Plugin
	client     *pjrt.Client
	numDevices int
	users      int
}

// New returns a new pjrt driver. It doesn't load any plugin.
func New() (backends.Driver, error) {
	return &Driver{clients: make(map[string]*client)}, nil
}

// Info implements backends.Driver.
func (d *Driver) Info() backends.DriverInfo {
	return backends.DriverInfo{Name: DriverName, Description: fmt.Sprintf("PJRT plugins %q", GetAvailablePlugins())}
}

// QueryDevices implements backends.Driver. It loads every available plugin to count its devices.
func (d *Driver) QueryDevices() ([]backends.DeviceInfo, error) {
	var infos []backends.DeviceInfo
	for _, pluginName := range GetAvailablePlugins() {
		c, err := d.acquireClient(pluginName)
		if err != nil {
			klog.Warningf("failed to load PJRT plugin %q: %v", pluginName, err)
			continue
		}
		for num := range c.numDevices {
			infos = append(infos, c.deviceInfo(num))
		}
		d.releaseClient(c)
	}
	return infos, nil
}

func (c *client) deviceInfo(deviceNum int) backends.DeviceInfo {
	path := c.pluginName
	if deviceNum > 0 {
		path = fmt.Sprintf("%s?device=%d", c.pluginName, deviceNum)
	}
	return backends.DeviceInfo{
		Driver: DriverName,
		Path:   path,
		Name:   fmt.Sprintf("%s device #%d", c.plugin, deviceNum),
	}
}

// acquireClient returns the client of the plugin, creating it if needed.
func (d *Driver) acquireClient(pluginName string) (*client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, found := d.clients[pluginName]; found {
		c.users++
		return c, nil
	}
	plugin, err := pjrt.GetPlugin(pluginName)
	if err != nil {
		return nil, status.Wrapf(err, status.DeviceUnavailable, "failed to load PJRT plugin %q", pluginName)
	}
	pjrtClient, err := plugin.NewClient(nil)
	if err != nil {
		return nil, status.Wrapf(err, status.DeviceUnavailable, "failed to create client for PJRT plugin %q", pluginName)
	}
	c := &client{
		pluginName: pluginName,
		plugin:     plugin,
		client:     pjrtClient,
		numDevices: len(pjrtClient.AddressableDevices()),
		users:      1,
	}
	d.clients[pluginName] = c
	klog.V(1).Infof("PJRT plugin %q loaded: %s, %d devices", pluginName, plugin, c.numDevices)
	return c, nil
}

// retainClient adds a user to a client already acquired.
func (d *Driver) retainClient(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.users <= 0 {
		exceptions.Panicf("pjrt: retaining client of plugin %q already destroyed", c.pluginName)
	}
	c.users++
}

// releaseClient drops one user of the client, destroying it when there are no more users.
func (d *Driver) releaseClient(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.users--
	if c.users > 0 {
		return
	}
	if d.clients[c.pluginName] == c {
		delete(d.clients, c.pluginName)
	}
	if err := c.client.Destroy(); err != nil {
		klog.Warningf("failure while destroying PJRT client of plugin %q: %+v", c.pluginName, errors.WithStack(err))
	}
}

// CreateDevice implements backends.Driver. The path is the plugin name, and the parameter "device"
// selects the device number (default 0).
func (d *Driver) CreateDevice(path string, params url.Values, _ backends.Allocator) (backends.DeviceBackend, error) {
	plugins := GetAvailablePlugins()
	if len(plugins) == 0 {
		return nil, status.Errorf(status.DeviceUnavailable, "no PJRT plugins found -- either set "+
			"PJRT_PLUGIN_LIBRARY_PATH to the directory with the PJRT plugins or install them")
	}
	pluginName := path
	if pluginName == "" {
		pluginName = plugins[0]
	} else if !slices.Contains(plugins, pluginName) {
		return nil, status.Errorf(status.DeviceUnavailable, "PJRT plugin %q not found, available plugins: %q", pluginName, plugins)
	}
	deviceNum, err := backends.IntParam(params, "device", 0)
	if err != nil {
		return nil, err
	}
	c, err := d.acquireClient(pluginName)
	if err != nil {
		return nil, err
	}
	if deviceNum < 0 || deviceNum >= c.numDevices {
		d.releaseClient(c)
		return nil, status.Errorf(status.DeviceUnavailable, "PJRT plugin %q has %d devices, device #%d not available",
			pluginName, c.numDevices, deviceNum)
	}
	maxAllocation, err := backends.IntParam(params, "max_allocation", 0)
	if err != nil {
		d.releaseClient(c)
		return nil, err
	}
	return newDevice(d, c, deviceNum, maxAllocation), nil
}

// Destroy implements backends.Driver. Clients still used by live buffers are destroyed when their
// last buffer is released.
func (d *Driver) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, c := range d.clients {
		klog.V(1).Infof("PJRT client of plugin %q still has %d users while destroying driver", name, c.users)
	}
	clear(d.clients)
}
