// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpuinfo describes the host CPU for the device listings of the CPU drivers.
package cpuinfo

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Features lists the SIMD extensions available in the host CPU.
func Features() []string {
	var features []string
	add := func(has bool, name string) {
		if has {
			features = append(features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE2, "sse2")
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "neon")
		add(cpu.ARM64.HasFPHP, "fp16")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return features
}

// Describe returns a short description of the host CPU, e.g. "CPU amd64 x8 [sse2 avx avx2]".
func Describe() string {
	description := fmt.Sprintf("CPU %s x%d", runtime.GOARCH, runtime.NumCPU())
	if features := Features(); len(features) > 0 {
		description += " [" + strings.Join(features, " ") + "]"
	}
	return description
}
