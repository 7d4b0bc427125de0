// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/shapes"
)

// Builder creates Bytecode modules. Example:
//
//	b := module.NewBuilder("module")
//	fn := b.NewFunction("simple_mul")
//	lhs := fn.Parameter(shapes.Make(dtypes.Float32, 4))
//	rhs := fn.Parameter(shapes.Make(dtypes.Float32, 4))
//	fn.Return(module.Mul(lhs, rhs))
//	m, err := b.Build()
//
// Like building computation graphs, misuse of the builder (mismatched shapes, values of other functions, ...)
// panics with an error with a stack trace (see package github.com/gomlx/exceptions).
type Builder struct {
	m         *Bytecode
	functions []*FunctionBuilder
}

// NewBuilder returns a builder for a module with the given name.
func NewBuilder(moduleName string) *Builder {
	return &Builder{m: &Bytecode{ModuleName: moduleName}}
}

// GlobalRef refers to a global of the module being built.
type GlobalRef struct {
	b     *Builder
	index int
}

// Shape of the global.
func (g *GlobalRef) Shape() shapes.Shape { return g.b.m.Globals[g.index].Shape }

// Global declares a module global, initialized with a copy of initial, which must have the byte size of shape.
// If initial is nil, the global is zero-initialized.
func (b *Builder) Global(name string, shape shapes.Shape, initial []byte) *GlobalRef {
	if initial == nil {
		initial = make([]byte, shape.ByteSize())
	}
	if len(initial) != shape.ByteSize() {
		exceptions.Panicf("module %q: global %q of shape %s requires %d bytes, got %d", b.m.ModuleName, name, shape, shape.ByteSize(), len(initial))
	}
	b.m.Globals = append(b.m.Globals, Global{Name: name, Shape: shape.Clone(), Initial: slices.Clone(initial)})
	return &GlobalRef{b: b, index: len(b.m.Globals) - 1}
}

// Import declares that the module calls qualifiedName ("module.function") with the given signature.
// The function must be exported by a module appended before this one in the Session.
func (b *Builder) Import(qualifiedName string, sig Signature) {
	if _, found := b.m.Import(qualifiedName); found {
		exceptions.Panicf("module %q: %q imported twice", b.m.ModuleName, qualifiedName)
	}
	b.m.ImportedList = append(b.m.ImportedList, Import{QualifiedName: qualifiedName, Signature: sig})
}

// NewFunction starts a new exported function. Use FunctionBuilder.Private to not export it.
func (b *Builder) NewFunction(name string) *FunctionBuilder {
	f := &FunctionBuilder{b: b, fn: &BytecodeFunction{FunctionName: name, Exported: true}}
	b.functions = append(b.functions, f)
	b.m.Functions = append(b.m.Functions, f.fn)
	return f
}

// Build validates and returns the module. The builder must not be used afterwards.
func (b *Builder) Build() (*Bytecode, error) {
	for _, f := range b.functions {
		if !f.returned {
			exceptions.Panicf("module %q: function %q has no Return", b.m.ModuleName, f.fn.FunctionName)
		}
	}
	if err := b.m.Validate(); err != nil {
		return nil, err
	}
	return b.m, nil
}

// FunctionBuilder builds one function of a module.
type FunctionBuilder struct {
	b        *Builder
	fn       *BytecodeFunction
	returned bool
}

// Value is a value (a tensor) of a function being built.
type Value struct {
	f  *FunctionBuilder
	id int
}

// Shape of the value.
func (v *Value) Shape() shapes.Shape { return v.f.fn.Values[v.id] }

// Private marks the function as not exported: it can only be called by functions of the same module.
func (f *FunctionBuilder) Private() *FunctionBuilder {
	f.fn.Exported = false
	return f
}

// Name of the function.
func (f *FunctionBuilder) Name() string { return f.fn.FunctionName }

func (f *FunctionBuilder) assertOpen() {
	if f.returned {
		exceptions.Panicf("function %q already returned", f.fn.FunctionName)
	}
}

func (f *FunctionBuilder) newValue(shape shapes.Shape) *Value {
	f.fn.Values = append(f.fn.Values, shape.Clone())
	return &Value{f: f, id: len(f.fn.Values) - 1}
}

func (f *FunctionBuilder) assertOwned(values ...*Value) {
	for _, v := range values {
		if v == nil || v.f != f {
			exceptions.Panicf("function %q: value given belongs to another function", f.fn.FunctionName)
		}
	}
}

// Parameter adds the next parameter of the function. Parameters must be created before any op.
func (f *FunctionBuilder) Parameter(shape shapes.Shape) *Value {
	f.assertOpen()
	if f.fn.NumParams != len(f.fn.Values) {
		exceptions.Panicf("function %q: parameters must be declared before any op", f.fn.FunctionName)
	}
	if err := shape.Check(); err != nil {
		exceptions.Panicf("function %q: invalid parameter shape: %v", f.fn.FunctionName, err)
	}
	f.fn.NumParams++
	return f.newValue(shape)
}

// Return sets the results of the function and finishes it.
func (f *FunctionBuilder) Return(results ...*Value) {
	f.assertOpen()
	f.assertOwned(results...)
	for _, v := range results {
		f.fn.ResultVals = append(f.fn.ResultVals, v.id)
	}
	f.returned = true
}

func (f *FunctionBuilder) addOp(op Op, outShapes ...shapes.Shape) []*Value {
	f.assertOpen()
	outputs := make([]*Value, len(outShapes))
	for ii, shape := range outShapes {
		outputs[ii] = f.newValue(shape)
		op.Outputs = append(op.Outputs, outputs[ii].id)
	}
	f.fn.Ops = append(f.fn.Ops, op)
	return outputs
}

func ids(values []*Value) []int {
	out := make([]int, len(values))
	for ii, v := range values {
		out[ii] = v.id
	}
	return out
}

// Constant returns a value with the given shape and contents.
func Constant(f *FunctionBuilder, shape shapes.Shape, data []byte) *Value {
	if len(data) != shape.ByteSize() {
		exceptions.Panicf("function %q: constant of shape %s requires %d bytes, got %d", f.fn.FunctionName, shape, shape.ByteSize(), len(data))
	}
	return f.addOp(Op{Code: OpConstant, Data: slices.Clone(data)}, shape)[0]
}

// ConstantOf returns a constant with the values of flat, shaped with dimensions (a scalar if none are given).
func ConstantOf[T dtypes.Supported](f *FunctionBuilder, flat []T, dimensions ...int) *Value {
	return Constant(f, shapes.Make(dtypes.FromGenericsType[T](), dimensions...), kernels.Bytes(flat))
}

// GlobalLoad returns the current value of the global.
func GlobalLoad(f *FunctionBuilder, g *GlobalRef) *Value {
	if g.b != f.b {
		exceptions.Panicf("function %q: global of another module", f.fn.FunctionName)
	}
	return f.addOp(Op{Code: OpGlobalLoad, Global: g.index}, g.Shape())[0]
}

// GlobalStore sets the global to the value x, which must have the same shape.
func GlobalStore(f *FunctionBuilder, g *GlobalRef, x *Value) {
	f.assertOwned(x)
	if g.b != f.b {
		exceptions.Panicf("function %q: global of another module", f.fn.FunctionName)
	}
	if !x.Shape().Equal(g.Shape()) {
		exceptions.Panicf("function %q: storing value of shape %s into global of shape %s", f.fn.FunctionName, x.Shape(), g.Shape())
	}
	f.addOp(Op{Code: OpGlobalStore, Global: g.index, Operands: []int{x.id}})
}

// Call calls the function callee: the name of a function of the same module already built, or the
// qualified name of a declared import. It returns the results of the call.
func Call(f *FunctionBuilder, callee string, args ...*Value) []*Value {
	f.assertOwned(args...)
	sig, found := f.b.m.calleeSignature(callee)
	if !found {
		exceptions.Panicf("function %q: calling unknown function %q, it must be defined before or imported", f.fn.FunctionName, callee)
	}
	if local := f.b.m.LocalFunction(callee); local != nil {
		for _, other := range f.b.functions {
			if other.fn == local && !other.returned {
				exceptions.Panicf("function %q: calling function %q before it returned", f.fn.FunctionName, callee)
			}
		}
	}
	argShapes := make([]shapes.Shape, len(args))
	for ii, arg := range args {
		argShapes[ii] = arg.Shape()
	}
	if !slices.EqualFunc(argShapes, sig.Parameters, shapes.Shape.Equal) {
		exceptions.Panicf("function %q: calling %q %s with arguments %v", f.fn.FunctionName, callee, sig, argShapes)
	}
	return f.addOp(Op{Code: OpCall, Callee: callee, Operands: ids(args)}, sig.Results...)
}

func kernelOp(kernel kernels.Op, operands ...*Value) *Value {
	f := operands[0].f
	f.assertOwned(operands...)
	shape := operands[0].Shape()
	for _, x := range operands[1:] {
		if !x.Shape().Equal(shape) {
			exceptions.Panicf("function %q: %s of values with different shapes %s and %s", f.fn.FunctionName, kernel, shape, x.Shape())
		}
	}
	return f.addOp(Op{Code: OpKernel, Kernel: kernel, Operands: ids(operands)}, shape)[0]
}

// Add returns the element-wise sum lhs + rhs.
func Add(lhs, rhs *Value) *Value { return kernelOp(kernels.Add, lhs, rhs) }

// Sub returns the element-wise difference lhs - rhs.
func Sub(lhs, rhs *Value) *Value { return kernelOp(kernels.Sub, lhs, rhs) }

// Mul returns the element-wise product lhs * rhs.
func Mul(lhs, rhs *Value) *Value { return kernelOp(kernels.Mul, lhs, rhs) }

// Div returns the element-wise division lhs / rhs. Integer division by zero fails the invocation.
func Div(lhs, rhs *Value) *Value { return kernelOp(kernels.Div, lhs, rhs) }

// Max returns the element-wise maximum.
func Max(lhs, rhs *Value) *Value { return kernelOp(kernels.Max, lhs, rhs) }

// Min returns the element-wise minimum.
func Min(lhs, rhs *Value) *Value { return kernelOp(kernels.Min, lhs, rhs) }

// Neg returns -x.
func Neg(x *Value) *Value { return kernelOp(kernels.Neg, x) }

// Abs returns the absolute value of x.
func Abs(x *Value) *Value { return kernelOp(kernels.Abs, x) }

// Sqrt returns the square root of x, for float types.
func Sqrt(x *Value) *Value { return kernelOp(kernels.Sqrt, x) }

// Exp returns e^x, for float types.
func Exp(x *Value) *Value { return kernelOp(kernels.Exp, x) }
