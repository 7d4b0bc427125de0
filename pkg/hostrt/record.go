// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostrt

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/bufferview"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/module"
	"github.com/gomlx/hostrt/pkg/status"
)

// recording is the command buffer of one invocation under construction, with the temporary buffers
// it uses. Temporaries are released once the command buffer completes.
type recording struct {
	session *Session
	cb      *backends.CommandBuffer
	temps   []*bufferview.BufferView
}

func newRecording(session *Session, label string) *recording {
	return &recording{session: session, cb: backends.NewCommandBuffer(label)}
}

// release frees the temporaries.
func (r *recording) release() {
	releaseAll(r.temps)
	r.temps = nil
}

// newTemp allocates a temporary buffer on the device.
func (r *recording) newTemp(shape shapes.Shape) (*bufferview.BufferView, error) {
	v, err := bufferview.AllocateZeroed(r.session.DeviceAllocator(), shape, shapes.EncodingDenseRowMajor, backends.DefaultParams)
	if err != nil {
		return nil, err
	}
	r.temps = append(r.temps, v)
	return v, nil
}

// newOutputs allocates the buffers for the results of fn, and records the copy of the results into them.
// Outputs are never aliased with inputs, temporaries or globals.
func (r *recording) newOutputs(results []*bufferview.BufferView) ([]*bufferview.BufferView, error) {
	outputs := make([]*bufferview.BufferView, 0, len(results))
	for ii, result := range results {
		out, err := bufferview.AllocateZeroed(r.session.DeviceAllocator(), result.Shape(), shapes.EncodingDenseRowMajor, backends.DefaultParams)
		if err != nil {
			releaseAll(outputs)
			return nil, status.Wrapf(err, status.CodeOf(err), "allocating output #%d", ii)
		}
		r.cb.Dispatch("output", kernels.Copy, result.ElementType(), out.Buffer(), result.Buffer())
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// call records the invocation of fn with args, and returns the views that will hold the results once
// the command buffer executes.
func (r *recording) call(fn boundFunction, args []*bufferview.BufferView, depth int) ([]*bufferview.BufferView, error) {
	if depth > r.session.options.MaxCallDepth {
		return nil, status.Errorf(status.InvocationFailure, "calling %q: maximum call depth %d exceeded",
			fn.qualifiedName(), r.session.options.MaxCallDepth)
	}
	switch f := fn.function.(type) {
	case *module.BytecodeFunction:
		return r.callBytecode(fn.owner, f, args, depth)
	case *module.NativeFunction:
		return r.callNative(fn, f, args)
	}
	return nil, status.Errorf(status.InvocationFailure, "function %q has unsupported type %T", fn.qualifiedName(), fn.function)
}

func (r *recording) callBytecode(owner *loadedModule, fn *module.BytecodeFunction, args []*bufferview.BufferView, depth int) ([]*bufferview.BufferView, error) {
	if owner.bytecode == nil {
		return nil, status.Errorf(status.InvocationFailure, "bytecode function %q in non-bytecode module %q",
			fn.FunctionName, owner.module.Name())
	}
	values := make([]*bufferview.BufferView, len(fn.Values))
	copy(values, args)
	for opIdx, op := range fn.Ops {
		fail := func(err error) error {
			return status.Wrapf(err, status.CodeOf(err), "%s.%s, op #%d (%s)", owner.module.Name(), fn.FunctionName, opIdx, op.Code)
		}
		switch op.Code {
		case module.OpConstant:
			v, err := bufferview.Allocate(r.session.DeviceAllocator(), fn.Values[op.Outputs[0]], shapes.EncodingDenseRowMajor,
				backends.DefaultParams, op.Data)
			if err != nil {
				return nil, fail(err)
			}
			r.temps = append(r.temps, v)
			values[op.Outputs[0]] = v

		case module.OpGlobalLoad:
			global := owner.globals[op.Global]
			v, err := r.newTemp(global.Shape())
			if err != nil {
				return nil, fail(err)
			}
			r.cb.Dispatch("global-load", kernels.Copy, global.ElementType(), v.Buffer(), global.Buffer())
			values[op.Outputs[0]] = v

		case module.OpGlobalStore:
			global := owner.globals[op.Global]
			r.cb.Dispatch("global-store", kernels.Copy, global.ElementType(), global.Buffer(), values[op.Operands[0]].Buffer())
			r.cb.MutatesState = true

		case module.OpKernel:
			shape := fn.Values[op.Outputs[0]]
			v, err := r.newTemp(shape)
			if err != nil {
				return nil, fail(err)
			}
			operands := make([]backends.Buffer, len(op.Operands))
			for ii, operand := range op.Operands {
				operands[ii] = values[operand].Buffer()
			}
			r.cb.Dispatch(op.Kernel.String(), op.Kernel, shape.DType, v.Buffer(), operands...)
			values[op.Outputs[0]] = v

		case module.OpCall:
			callee, err := r.resolveCallee(owner, op.Callee)
			if err != nil {
				return nil, fail(err)
			}
			calleeArgs := make([]*bufferview.BufferView, len(op.Operands))
			for ii, operand := range op.Operands {
				calleeArgs[ii] = values[operand]
			}
			results, err := r.call(callee, calleeArgs, depth+1)
			if err != nil {
				return nil, fail(err)
			}
			for ii, output := range op.Outputs {
				values[output] = results[ii]
			}

		default:
			return nil, fail(status.Errorf(status.InvocationFailure, "invalid op code %d", op.Code))
		}
	}
	results := make([]*bufferview.BufferView, len(fn.ResultVals))
	for ii, v := range fn.ResultVals {
		results[ii] = values[v]
	}
	return results, nil
}

// resolveCallee finds a local function (unqualified name) or an import (qualified name) of owner.
func (r *recording) resolveCallee(owner *loadedModule, callee string) (boundFunction, error) {
	if !strings.Contains(callee, ".") {
		if fn := owner.bytecode.LocalFunction(callee); fn != nil {
			return boundFunction{owner: owner, function: fn}, nil
		}
	} else if fn, found := owner.imports[callee]; found {
		return fn, nil
	}
	return boundFunction{}, status.Errorf(status.SymbolNotFound, "callee %q not found in module %q", callee, owner.module.Name())
}

// callNative records a host callback running the Go implementation of fn.
func (r *recording) callNative(bound boundFunction, fn *module.NativeFunction, args []*bufferview.BufferView) ([]*bufferview.BufferView, error) {
	sig := fn.Signature()
	results := make([]*bufferview.BufferView, len(sig.Results))
	for ii, shape := range sig.Results {
		v, err := r.newTemp(shape)
		if err != nil {
			return nil, err
		}
		results[ii] = v
	}
	inputs := buffersOf(args)
	outputs := buffersOf(results)
	r.cb.HostCall(bound.qualifiedName(), func() error {
		return runNative(fn, inputs, outputs)
	})
	if fn.MutatesState {
		r.cb.MutatesState = true
	}
	return results, nil
}

// runNative maps the buffers in host memory and calls the Go implementation of fn.
func runNative(fn *module.NativeFunction, inputs, outputs []backends.Buffer) (err error) {
	inputData := make([][]byte, len(inputs))
	for ii, buf := range inputs {
		data, flush, mapErr := backends.MapForHost(buf, false, false)
		if mapErr != nil {
			return mapErr
		}
		inputData[ii] = data
		if err = flush(); err != nil {
			return err
		}
	}
	outputData := make([][]byte, len(outputs))
	flushes := make([]func() error, 0, len(outputs))
	defer func() {
		for _, flush := range flushes {
			if flushErr := flush(); flushErr != nil && err == nil {
				err = flushErr
			}
		}
	}()
	for ii, buf := range outputs {
		data, flush, mapErr := backends.MapForHost(buf, true, true)
		if mapErr != nil {
			return mapErr
		}
		outputData[ii] = data
		flushes = append(flushes, flush)
	}
	if exception := exceptions.TryCatch[error](func() { err = fn.Call(inputData, outputData) }); exception != nil {
		return status.Wrapf(exception, status.InvocationFailure, "native function %q panicked", fn.Name())
	}
	return err
}

func buffersOf(views []*bufferview.BufferView) []backends.Buffer {
	buffers := make([]backends.Buffer, len(views))
	for ii, v := range views {
		buffers[ii] = v.Buffer()
	}
	return buffers
}
