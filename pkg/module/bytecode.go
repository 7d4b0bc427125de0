// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"slices"
	"strings"

	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/status"
)

// Bytecode is a module of hardware-agnostic functions.
//
// Functions are lists of ops over values: each value is defined once, by a parameter or by the output of
// an op, and has a fixed shape. Module globals are state private to each Session that loads the module.
//
// All fields are exported for serialization (see Encode), but a Bytecode must not be modified
// after it is built.
type Bytecode struct {
	ModuleName   string
	Globals      []Global
	Functions    []*BytecodeFunction
	ImportedList []Import
}

// Compile-time check.
var _ Module = (*Bytecode)(nil)

// Global is a module variable. Each Session loading the module gets its own copy, initialized with Initial.
type Global struct {
	Name    string
	Shape   shapes.Shape
	Initial []byte
}

// OpCode enumerates the ops of bytecode functions.
type OpCode int

const (
	// OpInvalid is the zero value, never valid.
	OpInvalid OpCode = iota

	// OpConstant outputs a value with the bytes in Op.Data.
	OpConstant

	// OpGlobalLoad outputs the current value of global Op.Global.
	OpGlobalLoad

	// OpGlobalStore sets global Op.Global to Op.Operands[0]. It has no outputs.
	OpGlobalStore

	// OpKernel runs the element-wise kernel Op.Kernel over the operands.
	OpKernel

	// OpCall calls Op.Callee: a function of the same module, or an import if qualified.
	OpCall
)

var opCodeNames = []string{"Invalid", "Constant", "GlobalLoad", "GlobalStore", "Kernel", "Call"}

// String implements fmt.Stringer.
func (c OpCode) String() string {
	if c < 0 || int(c) >= len(opCodeNames) {
		return "OpCode(?)"
	}
	return opCodeNames[c]
}

// Op is one instruction of a BytecodeFunction.
type Op struct {
	Code OpCode

	// Operands and Outputs are indices into BytecodeFunction.Values.
	Operands []int
	Outputs  []int

	Kernel kernels.Op
	Global int
	Data   []byte
	Callee string
}

// BytecodeFunction is a function of a Bytecode module.
type BytecodeFunction struct {
	FunctionName string
	Exported     bool

	// Values holds the shape of each value of the function. The first values are the parameters.
	Values     []shapes.Shape
	NumParams  int
	Ops        []Op
	ResultVals []int
}

// Compile-time check.
var _ Function = (*BytecodeFunction)(nil)

// Name implements Function.
func (fn *BytecodeFunction) Name() string { return fn.FunctionName }

// Signature implements Function.
func (fn *BytecodeFunction) Signature() Signature {
	sig := Signature{Parameters: slices.Clone(fn.Values[:fn.NumParams])}
	for _, v := range fn.ResultVals {
		sig.Results = append(sig.Results, fn.Values[v])
	}
	return sig
}

// MutatesState returns whether the function stores into module globals, directly or through calls of
// functions of the same module. Stores done by imported functions are not considered.
func (m *Bytecode) MutatesState(fn *BytecodeFunction) bool {
	visited := make(map[string]bool)
	var visit func(fn *BytecodeFunction) bool
	visit = func(fn *BytecodeFunction) bool {
		if visited[fn.FunctionName] {
			return false
		}
		visited[fn.FunctionName] = true
		for _, op := range fn.Ops {
			switch op.Code {
			case OpGlobalStore:
				return true
			case OpCall:
				if callee := m.LocalFunction(op.Callee); callee != nil && visit(callee) {
					return true
				}
			}
		}
		return false
	}
	return visit(fn)
}

// Name implements Module.
func (m *Bytecode) Name() string { return m.ModuleName }

// Exports implements Module.
func (m *Bytecode) Exports() []string {
	var names []string
	for _, fn := range m.Functions {
		if fn.Exported {
			names = append(names, fn.FunctionName)
		}
	}
	return names
}

// Imports implements Module.
func (m *Bytecode) Imports() []Import { return m.ImportedList }

// Function implements Module: it returns only exported functions.
func (m *Bytecode) Function(name string) (Function, bool) {
	fn := m.LocalFunction(name)
	if fn == nil || !fn.Exported {
		return nil, false
	}
	return fn, true
}

// LocalFunction returns the function with the given name, exported or not, or nil.
func (m *Bytecode) LocalFunction(name string) *BytecodeFunction {
	for _, fn := range m.Functions {
		if fn.FunctionName == name {
			return fn
		}
	}
	return nil
}

// Import returns the declared import with the given qualified name.
func (m *Bytecode) Import(qualifiedName string) (Import, bool) {
	for _, imp := range m.ImportedList {
		if imp.QualifiedName == qualifiedName {
			return imp, true
		}
	}
	return Import{}, false
}

// calleeSignature returns the signature of a local function or declared import.
func (m *Bytecode) calleeSignature(callee string) (Signature, bool) {
	if fn := m.LocalFunction(callee); fn != nil {
		return fn.Signature(), true
	}
	if imp, found := m.Import(callee); found {
		return imp.Signature, true
	}
	return Signature{}, false
}

// Validate checks the module is well-formed: names, value indices, shapes of operands and outputs,
// globals, callees, and that local calls have no cycles.
// It returns a ModuleLoadFailure error describing the first problem found.
func (m *Bytecode) Validate() error {
	fail := func(format string, args ...any) error {
		return status.Errorf(status.ModuleLoadFailure, "module %q: "+format, append([]any{m.ModuleName}, args...)...)
	}
	if !validName(m.ModuleName, true) {
		return fail("invalid module name")
	}
	seen := make(map[string]bool)
	for ii, g := range m.Globals {
		if !validName(g.Name, false) || seen[g.Name] {
			return fail("invalid or duplicate global #%d name %q", ii, g.Name)
		}
		seen[g.Name] = true
		if err := g.Shape.Check(); err != nil {
			return fail("global %q: %v", g.Name, err)
		}
		if len(g.Initial) != g.Shape.ByteSize() {
			return fail("global %q of shape %s has %d bytes of initial data, requires %d", g.Name, g.Shape, len(g.Initial), g.Shape.ByteSize())
		}
	}
	for _, imp := range m.ImportedList {
		moduleName, _, err := SplitQualifiedName(imp.QualifiedName)
		if err != nil {
			return fail("invalid import: %v", err)
		}
		if moduleName == m.ModuleName {
			return fail("import %q refers to the module itself", imp.QualifiedName)
		}
	}
	seen = make(map[string]bool)
	for _, fn := range m.Functions {
		if !validName(fn.FunctionName, false) || seen[fn.FunctionName] {
			return fail("invalid or duplicate function name %q", fn.FunctionName)
		}
		seen[fn.FunctionName] = true
		if err := m.validateFunction(fn); err != nil {
			return fail("function %q: %v", fn.FunctionName, err)
		}
	}
	if cycle := m.findCallCycle(); cycle != "" {
		return fail("recursive calls not supported: %s", cycle)
	}
	return nil
}

func (m *Bytecode) validateFunction(fn *BytecodeFunction) error {
	if fn.NumParams < 0 || fn.NumParams > len(fn.Values) {
		return status.Errorf(status.ModuleLoadFailure, "%d parameters but only %d values", fn.NumParams, len(fn.Values))
	}
	for ii, shape := range fn.Values {
		if err := shape.Check(); err != nil {
			return status.Wrapf(err, status.ModuleLoadFailure, "value #%d", ii)
		}
	}
	defined := make([]bool, len(fn.Values))
	for ii := range fn.NumParams {
		defined[ii] = true
	}
	use := func(v int) error {
		if v < 0 || v >= len(fn.Values) || !defined[v] {
			return status.Errorf(status.ModuleLoadFailure, "use of undefined value #%d", v)
		}
		return nil
	}
	for opIdx, op := range fn.Ops {
		for _, v := range op.Operands {
			if err := use(v); err != nil {
				return status.Wrapf(err, status.ModuleLoadFailure, "op #%d (%s)", opIdx, op.Code)
			}
		}
		var outShapes []shapes.Shape
		switch op.Code {
		case OpConstant:
			if len(op.Operands) != 0 || len(op.Outputs) != 1 {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) must have no operands and 1 output", opIdx, op.Code)
			}
			if out := op.Outputs[0]; out >= 0 && out < len(fn.Values) && len(op.Data) != fn.Values[out].ByteSize() {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) has %d bytes, shape %s requires %d",
					opIdx, op.Code, len(op.Data), fn.Values[out], fn.Values[out].ByteSize())
			}
		case OpGlobalLoad, OpGlobalStore:
			if op.Global < 0 || op.Global >= len(m.Globals) {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) refers to undefined global #%d", opIdx, op.Code, op.Global)
			}
			globalShape := m.Globals[op.Global].Shape
			if op.Code == OpGlobalLoad {
				if len(op.Operands) != 0 || len(op.Outputs) != 1 {
					return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) must have no operands and 1 output", opIdx, op.Code)
				}
				outShapes = []shapes.Shape{globalShape}
			} else {
				if len(op.Operands) != 1 || len(op.Outputs) != 0 {
					return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) must have 1 operand and no outputs", opIdx, op.Code)
				}
				if !fn.Values[op.Operands[0]].Equal(globalShape) {
					return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) stores %s into global %q of shape %s",
						opIdx, op.Code, fn.Values[op.Operands[0]], m.Globals[op.Global].Name, globalShape)
				}
			}
		case OpKernel:
			if op.Kernel.Arity() == 0 || len(op.Operands) != op.Kernel.Arity() || len(op.Outputs) != 1 {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s %s) with %d operands and %d outputs",
					opIdx, op.Code, op.Kernel, len(op.Operands), len(op.Outputs))
			}
			shape := fn.Values[op.Operands[0]]
			for _, v := range op.Operands[1:] {
				if !fn.Values[v].Equal(shape) {
					return status.Errorf(status.ModuleLoadFailure, "op #%d (%s %s) operands have different shapes %s and %s",
						opIdx, op.Code, op.Kernel, shape, fn.Values[v])
				}
			}
			outShapes = []shapes.Shape{shape}
		case OpCall:
			sig, found := m.calleeSignature(op.Callee)
			if !found {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) calls undeclared function %q", opIdx, op.Code, op.Callee)
			}
			operandShapes := make([]shapes.Shape, len(op.Operands))
			for ii, v := range op.Operands {
				operandShapes[ii] = fn.Values[v]
			}
			if !slices.EqualFunc(operandShapes, sig.Parameters, shapes.Shape.Equal) || len(op.Outputs) != len(sig.Results) {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) calls %q %s with %d operands and %d outputs",
					opIdx, op.Code, op.Callee, sig, len(op.Operands), len(op.Outputs))
			}
			outShapes = sig.Results
		default:
			return status.Errorf(status.ModuleLoadFailure, "op #%d has invalid code %s", opIdx, op.Code)
		}
		for ii, v := range op.Outputs {
			if v < 0 || v >= len(fn.Values) || defined[v] {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) output value #%d invalid or already defined", opIdx, op.Code, v)
			}
			if outShapes != nil && !fn.Values[v].Equal(outShapes[ii]) {
				return status.Errorf(status.ModuleLoadFailure, "op #%d (%s) output #%d has shape %s, expected %s",
					opIdx, op.Code, ii, fn.Values[v], outShapes[ii])
			}
			defined[v] = true
		}
	}
	for _, v := range fn.ResultVals {
		if err := use(v); err != nil {
			return status.Wrapf(err, status.ModuleLoadFailure, "results")
		}
	}
	return nil
}

// findCallCycle returns a description of a cycle of local calls, or "" if there is none.
func (m *Bytecode) findCallCycle() string {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int)
	var path []string
	var visit func(fn *BytecodeFunction) bool
	visit = func(fn *BytecodeFunction) bool {
		state[fn.FunctionName] = inStack
		path = append(path, fn.FunctionName)
		for _, op := range fn.Ops {
			if op.Code != OpCall {
				continue
			}
			callee := m.LocalFunction(op.Callee)
			if callee == nil {
				continue
			}
			switch state[callee.FunctionName] {
			case inStack:
				path = append(path, callee.FunctionName)
				return true
			case unvisited:
				if visit(callee) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		state[fn.FunctionName] = done
		return false
	}
	for _, fn := range m.Functions {
		if state[fn.FunctionName] == unvisited && visit(fn) {
			return strings.Join(path, " -> ")
		}
	}
	return ""
}
