//go:build linux && amd64 && !nopjrt

// For now PJRT is only included by default in linux/amd64.

package _default

import _ "github.com/gomlx/hostrt/backends/pjrt"
