// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gomlx/hostrt/pkg/status"
)

// DeviceURI is a parsed device selector.
type DeviceURI struct {
	// Driver name, empty for the default driver.
	Driver string

	// Path selects the device within the driver, empty for the driver default.
	Path string

	// Params are driver specific device parameters.
	Params url.Values
}

// ParseDeviceURI parses a device selector. Accepted forms are:
//
//   - "driver", e.g. "local-sync";
//   - "driver://path?param=value", e.g. "pjrt://cuda?device=1" or "local-task://?workers=4";
//   - "driver:path?param=value", e.g. "pjrt:cpu".
//
// An empty selector selects the default driver. Malformed selectors return an UnknownBackend error.
func ParseDeviceURI(selector string) (DeviceURI, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return DeviceURI{}, nil
	}
	if !strings.Contains(selector, ":") {
		return DeviceURI{Driver: selector}, nil
	}
	u, err := url.Parse(selector)
	if err != nil {
		return DeviceURI{}, status.Wrapf(err, status.UnknownBackend, "malformed device URI %q", selector)
	}
	if u.Scheme == "" {
		return DeviceURI{}, status.Errorf(status.UnknownBackend, "device URI %q has no driver name", selector)
	}
	d := DeviceURI{Driver: u.Scheme, Params: u.Query()}
	if u.Opaque != "" {
		d.Path = u.Opaque
	} else {
		d.Path = strings.TrimPrefix(u.Host+u.Path, "/")
	}
	return d, nil
}

// String returns the canonical form of the URI: "driver://path?params".
func (d DeviceURI) String() string {
	if d.Path == "" && len(d.Params) == 0 {
		return d.Driver
	}
	s := d.Driver + "://" + d.Path
	if len(d.Params) > 0 {
		s += "?" + d.Params.Encode()
	}
	return s
}

// IntParam returns the integer device parameter key, or defaultValue if it is not set.
// Malformed values return a DeviceUnavailable error.
func IntParam(params url.Values, key string, defaultValue int) (int, error) {
	v := params.Get(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, status.Wrapf(err, status.DeviceUnavailable, "invalid device parameter %s=%q", key, v)
	}
	return n, nil
}
