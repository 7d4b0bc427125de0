// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/status"
)

// CommandKind enumerates the kinds of Command.
type CommandKind int

const (
	// CommandDispatch runs a kernel over device buffers.
	CommandDispatch CommandKind = iota

	// CommandHostCall runs a Go function on the host, in queue order.
	CommandHostCall
)

// Command is one step recorded in a CommandBuffer.
type Command struct {
	Kind  CommandKind
	Label string

	// Dispatch fields.
	Kernel   kernels.Op
	DType    dtypes.DType
	Output   Buffer
	Operands []Buffer

	// HostCall is the function run by CommandHostCall commands.
	HostCall func() error
}

// String implements fmt.Stringer.
func (c *Command) String() string {
	if c.Kind == CommandHostCall {
		return fmt.Sprintf("host-call %q", c.Label)
	}
	return fmt.Sprintf("dispatch %s<%s>(%d operands) %q", c.Kernel, c.DType, len(c.Operands), c.Label)
}

// CommandBuffer is the list of commands of one submission to a device queue.
// Commands execute in order; execution stops at the first failure.
type CommandBuffer struct {
	Label    string
	Commands []*Command

	// MutatesState marks command buffers that update state visible to later submissions on the
	// same timeline. If such a command buffer fails, the timeline is poisoned.
	MutatesState bool
}

// NewCommandBuffer returns an empty command buffer.
func NewCommandBuffer(label string) *CommandBuffer {
	return &CommandBuffer{Label: label}
}

// Dispatch records a kernel dispatch.
func (cb *CommandBuffer) Dispatch(label string, op kernels.Op, dtype dtypes.DType, output Buffer, operands ...Buffer) {
	cb.Commands = append(cb.Commands, &Command{
		Kind:     CommandDispatch,
		Label:    label,
		Kernel:   op,
		DType:    dtype,
		Output:   output,
		Operands: operands,
	})
}

// HostCall records a Go function to be run in queue order.
func (cb *CommandBuffer) HostCall(label string, fn func() error) {
	cb.Commands = append(cb.Commands, &Command{Kind: CommandHostCall, Label: label, HostCall: fn})
}

// Len returns the number of recorded commands.
func (cb *CommandBuffer) Len() int { return len(cb.Commands) }

// MapForHost gives the host access to the bytes of buf.
//
// HostBuffer memory is returned directly. Other buffers are staged in host memory: read from the
// device unless discardContents is set, and written back by the returned flush function if
// writeBack is set. flush must always be called.
func MapForHost(buf Buffer, discardContents, writeBack bool) (data []byte, flush func() error, err error) {
	if hostBuf, ok := buf.(HostBuffer); ok {
		return hostBuf.HostBytes(), func() error { return nil }, nil
	}
	n := buf.ByteLength()
	data = kernels.Bytes(make([]uint64, (n+7)/8))
	if len(data) > n {
		data = data[:n]
	}
	if !discardContents && n > 0 {
		if err = buf.ReadAt(data, 0); err != nil {
			return nil, nil, err
		}
	}
	flush = func() error {
		if !writeBack || n == 0 {
			return nil
		}
		return buf.WriteAt(data, 0)
	}
	return data, flush, nil
}

// ExecuteOnHost runs every command of cb with the host kernels, staging non-host buffers through
// host memory. It is the execution engine of the CPU drivers, and the fallback of accelerator drivers
// for kernels they don't implement natively.
func ExecuteOnHost(cb *CommandBuffer) error {
	for ii, cmd := range cb.Commands {
		var err error
		switch cmd.Kind {
		case CommandHostCall:
			err = cmd.HostCall()
		case CommandDispatch:
			err = executeDispatch(cmd)
		default:
			err = status.Errorf(status.InvocationFailure, "unknown command kind %d", cmd.Kind)
		}
		if err != nil {
			if status.CodeOf(err) == status.Unknown {
				err = status.Wrapf(err, status.InvocationFailure, "command #%d (%s) of %q failed", ii, cmd, cb.Label)
			}
			return err
		}
	}
	return nil
}

func executeDispatch(cmd *Command) error {
	operands := make([][]byte, len(cmd.Operands))
	for ii, operand := range cmd.Operands {
		data, flush, err := MapForHost(operand, false, false)
		if err != nil {
			return err
		}
		operands[ii] = data
		if err = flush(); err != nil {
			return err
		}
	}
	out, flush, err := MapForHost(cmd.Output, true, true)
	if err != nil {
		return err
	}
	if err = kernels.Run(cmd.Kernel, cmd.DType, out, operands...); err != nil {
		_ = flush()
		return err
	}
	return flush()
}
