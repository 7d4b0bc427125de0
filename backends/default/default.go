// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default drivers, namely local-sync, local-task and pjrt.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/hostrt/backends/default"
//
// If you add the tag `nopjrt` it will not include pjrt -- useful if you don't have the corresponding libraries installed.
// local-sync is registered first, and is the default driver.
package _default

import (
	_ "github.com/gomlx/hostrt/backends/localsync"
	_ "github.com/gomlx/hostrt/backends/localtask"
)
