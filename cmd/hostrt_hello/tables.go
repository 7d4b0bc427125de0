// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/hostrt/backends"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		})
}

// devicesTable lists the drivers of the registry and their devices.
func devicesTable(registry *backends.Registry) string {
	drivers := newPlainTable().Headers("Driver", "Description")
	for _, info := range registry.Drivers() {
		drivers.Row(info.Name, info.Description)
	}
	devices := newPlainTable().Headers("Device URI", "Name", "Allocator", "Live", "Peak")
	for _, info := range registry.QueryDevices() {
		if info.Allocator == "" {
			// Device not instantiated.
			devices.Row(info.URI(), info.Name, "-", "-", "-")
			continue
		}
		devices.Row(info.URI(), info.Name, info.Allocator,
			humanize.IBytes(uint64(info.Statistics.BytesLive)), humanize.IBytes(uint64(info.Statistics.BytesPeak)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, drivers.String(), devices.String())
}
