// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package module defines the loadable units of code of the runtime: a Module is a named table of
// exported functions, appended to a Session and addressed by qualified names "module.function".
//
// There are two kinds of modules:
//
//   - Bytecode: hardware-agnostic functions made of element-wise ops over tensors, with module globals.
//     They are created with a Builder, and serialized with Encode/Decode (the image format of module files).
//   - Native: functions implemented in Go, with declared signatures. They are appended to a session
//     before the bytecode modules that import them.
//
// Modules are immutable once built or decoded.
package module

import (
	"slices"
	"strings"

	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/status"
)

// Module is a named table of functions.
type Module interface {
	// Name of the module, the prefix of the qualified names of its functions.
	Name() string

	// Exports lists the names (not qualified) of the exported functions.
	Exports() []string

	// Imports lists the functions this module requires from previously appended modules.
	Imports() []Import

	// Function returns the exported function with the given (not qualified) name.
	Function(name string) (Function, bool)
}

// Function is an exported function of a Module.
type Function interface {
	// Name of the function, not qualified.
	Name() string

	// Signature of the function.
	Signature() Signature
}

// Import is a function required by a module, with the signature it expects.
type Import struct {
	// QualifiedName of the function: "module.function".
	QualifiedName string
	Signature     Signature
}

// Signature lists the shapes of the parameters and results of a function.
// Inputs are bound by position.
type Signature struct {
	Parameters []shapes.Shape
	Results    []shapes.Shape
}

// Equal returns whether both signatures have the same parameters and results.
func (s Signature) Equal(other Signature) bool {
	return slices.EqualFunc(s.Parameters, other.Parameters, shapes.Shape.Equal) &&
		slices.EqualFunc(s.Results, other.Results, shapes.Shape.Equal)
}

// String implements fmt.Stringer, e.g. "(4xf32, 4xf32) -> (4xf32)".
func (s Signature) String() string {
	list := func(shapesList []shapes.Shape) string {
		parts := make([]string, len(shapesList))
		for ii, shape := range shapesList {
			parts[ii] = shape.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return list(s.Parameters) + " -> " + list(s.Results)
}

// SplitQualifiedName splits "module.function" into its parts. The module name is everything up to
// the last ".", so module names may contain dots.
func SplitQualifiedName(qualifiedName string) (moduleName, functionName string, err error) {
	idx := strings.LastIndex(qualifiedName, ".")
	if idx <= 0 || idx == len(qualifiedName)-1 {
		return "", "", status.Errorf(status.FunctionNotFound, "invalid qualified function name %q, expected \"module.function\"", qualifiedName)
	}
	return qualifiedName[:idx], qualifiedName[idx+1:], nil
}

// QualifiedName joins the module and function names.
func QualifiedName(moduleName, functionName string) string {
	return moduleName + "." + functionName
}

// validName returns whether name can be used for modules, functions and globals.
func validName(name string, allowDots bool) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
		case r == '.' && allowDots:
		default:
			return false
		}
	}
	return true
}
