// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package heap

import (
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/hostrt/pkg/status"
)

// ConfigFromParams returns the Config for an allocator named name, reading the device URI
// parameters "max_bytes" and "max_allocation" (human-readable sizes, e.g. "512MiB").
func ConfigFromParams(name string, params url.Values) (Config, error) {
	config := Config{Name: name}
	if v := params.Get("max_bytes"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return config, status.Wrapf(err, status.DeviceUnavailable, "invalid max_bytes=%q", v)
		}
		config.MaxBytes = int64(n)
	}
	if v := params.Get("max_allocation"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return config, status.Wrapf(err, status.DeviceUnavailable, "invalid max_allocation=%q", v)
		}
		config.MaxAllocationSize = int(n)
	}
	return config, nil
}
