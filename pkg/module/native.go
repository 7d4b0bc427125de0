// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// NativeFunc implements a native function. inputs and outputs hold the dense row-major contents of the
// parameters and results, with the byte sizes of the declared signature. outputs are zero-initialized.
//
// It is called on the device queue, in order with the other work of the Session. It must not retain
// the slices after returning.
type NativeFunc func(inputs, outputs [][]byte) error

// Native is a module of functions implemented in Go.
type Native struct {
	name      string
	functions []*NativeFunction
}

// Compile-time check.
var _ Module = (*Native)(nil)

// NativeFunction is a function of a Native module.
type NativeFunction struct {
	name string
	sig  Signature
	fn   NativeFunc

	// MutatesState should be set if the function keeps state between calls.
	// A failure of such a function poisons the Session timeline.
	MutatesState bool
}

// Compile-time check.
var _ Function = (*NativeFunction)(nil)

// NewNative creates an empty native module.
func NewNative(name string) *Native {
	if !validName(name, true) {
		exceptions.Panicf("invalid native module name %q", name)
	}
	return &Native{name: name}
}

// Register adds an exported function to the module, and returns it.
// It panics if the name is invalid or already registered.
func (m *Native) Register(name string, sig Signature, fn NativeFunc) *NativeFunction {
	if !validName(name, false) {
		exceptions.Panicf("native module %q: invalid function name %q", m.name, name)
	}
	if _, found := m.Function(name); found {
		exceptions.Panicf("native module %q: function %q registered twice", m.name, name)
	}
	for _, shape := range slices.Concat(sig.Parameters, sig.Results) {
		if err := shape.Check(); err != nil {
			exceptions.Panicf("native module %q: function %q has invalid signature %s: %v", m.name, name, sig, err)
		}
	}
	f := &NativeFunction{name: name, sig: sig, fn: fn}
	m.functions = append(m.functions, f)
	return f
}

// Name implements Module.
func (m *Native) Name() string { return m.name }

// Exports implements Module.
func (m *Native) Exports() []string {
	names := make([]string, len(m.functions))
	for ii, f := range m.functions {
		names[ii] = f.name
	}
	return names
}

// Imports implements Module. Native modules have no imports.
func (m *Native) Imports() []Import { return nil }

// Function implements Module.
func (m *Native) Function(name string) (Function, bool) {
	for _, f := range m.functions {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

// Name implements Function.
func (f *NativeFunction) Name() string { return f.name }

// Signature implements Function.
func (f *NativeFunction) Signature() Signature { return f.sig }

// Call the Go implementation.
func (f *NativeFunction) Call(inputs, outputs [][]byte) error { return f.fn(inputs, outputs) }
