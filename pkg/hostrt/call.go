// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostrt

import (
	"fmt"

	"github.com/gomlx/hostrt/pkg/core/bufferview"
	"github.com/gomlx/hostrt/pkg/module"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// CallState enumerates the states of a Call.
type CallState int

const (
	CallUninitialized CallState = iota
	CallInitialized
	CallAcceptingInputs
	CallInvoked
	CallOutputsAvailable
	CallDeinitialized
)

var callStateNames = []string{"Uninitialized", "Initialized", "AcceptingInputs", "Invoked", "OutputsAvailable", "Deinitialized"}

// String implements fmt.Stringer.
func (s CallState) String() string {
	if s < 0 || int(s) >= len(callStateNames) {
		return fmt.Sprintf("CallState(%d)", int(s))
	}
	return callStateNames[s]
}

// InvocationFlags modify how a Call is invoked.
type InvocationFlags uint32

const (
	// InvokeDefault is the default invocation.
	InvokeDefault InvocationFlags = 0

	// InvokeTrace logs the recorded commands before they are submitted.
	InvokeTrace InvocationFlags = 1 << iota
)

// Call is one invocation of an exported function of a Session.
//
// Inputs are pushed in order (bound to the parameters by position) and retained by the call. Once invoked
// and completed successfully, the results can be popped in order: ownership of each output moves to the
// caller. Deinitialize releases everything the call still holds.
//
// A Call is not safe for concurrent use.
type Call struct {
	session  *Session
	function boundFunction
	state    CallState

	inputs  []*bufferview.BufferView
	outputs []*bufferview.BufferView

	// pending is the result of an invocation not yet waited for, with its outputs.
	pending        *xsync.Future[error]
	pendingOutputs []*bufferview.BufferView

	// err is the failure of the last invocation.
	err error
}

// InitializeCallByName prepares a call of the exported function qualifiedName ("module.function") of session.
// The call retains the session until it is deinitialized.
//
// It returns a FunctionNotFound error if there is no such function.
func InitializeCallByName(session *Session, qualifiedName string) (*Call, error) {
	if session == nil || session.IsReleased() {
		return nil, status.Errorf(status.InvalidState, "initializing call %q: nil or released session", qualifiedName)
	}
	fn, err := session.lookup(qualifiedName)
	if err != nil {
		return nil, err
	}
	session.Retain()
	return &Call{session: session, function: fn, state: CallInitialized}, nil
}

// State of the call.
func (c *Call) State() CallState { return c.state }

// Function being called.
func (c *Call) Function() module.Function { return c.function.function }

// QualifiedName of the function being called.
func (c *Call) QualifiedName() string { return c.function.qualifiedName() }

// NumInputs returns the number of inputs pushed so far.
func (c *Call) NumInputs() int { return len(c.inputs) }

// NumOutputs returns the number of outputs that can still be popped.
func (c *Call) NumOutputs() int { return len(c.outputs) }

func (c *Call) invalidState(method string) error {
	return status.Errorf(status.InvalidState, "Call(%s).%s() not allowed in state %s", c.describe(), method, c.state)
}

func (c *Call) describe() string {
	if c.session == nil {
		return "?"
	}
	return c.function.qualifiedName()
}

// PushInput appends the next input of the call. The call retains the view, so the caller may release its
// own reference right away.
//
// It returns an InputArityExceeded error if the function has no more parameters, and an InvalidState error
// if the call was already invoked.
func (c *Call) PushInput(view *bufferview.BufferView) error {
	if c.state != CallInitialized && c.state != CallAcceptingInputs {
		return c.invalidState("PushInput")
	}
	if view == nil || view.IsReleased() {
		return status.Errorf(status.InvalidState, "Call(%s).PushInput(): nil or released buffer view", c.describe())
	}
	numParams := len(c.function.function.Signature().Parameters)
	if len(c.inputs) >= numParams {
		return status.Errorf(status.InputArityExceeded, "%s takes %d inputs, can't push input #%d",
			c.describe(), numParams, len(c.inputs))
	}
	view.Retain()
	c.inputs = append(c.inputs, view)
	c.state = CallAcceptingInputs
	return nil
}

// Invoke executes the call and blocks until the results are available.
//
// It returns an InvocationFailure if the inputs don't match the parameters of the function, or if the execution
// failed, and an InvalidState error if the call was already invoked (see Reset).
func (c *Call) Invoke(flags InvocationFlags) error {
	if _, err := c.start(flags); err != nil {
		return err
	}
	return c.Wait()
}

// InvokeAsync submits the call for execution, and returns immediately a future resolved when it completes.
// The outputs become available after Wait.
//
// Calls invoked asynchronously on the same Session execute in the order they were invoked.
func (c *Call) InvokeAsync(flags InvocationFlags) *xsync.Future[error] {
	done, err := c.start(flags)
	if err != nil {
		return xsync.Resolved(err)
	}
	return done
}

// Wait blocks until the pending invocation completes, and moves the call to the OutputsAvailable state if it
// succeeded. It returns the invocation error, or an InvalidState error if the call was not invoked.
func (c *Call) Wait() error {
	if c.state != CallInvoked {
		if c.state == CallOutputsAvailable {
			return nil
		}
		return c.invalidState("Wait")
	}
	if c.pending == nil {
		return c.err
	}
	err := c.pending.Wait()
	outputs := c.pendingOutputs
	c.pending, c.pendingOutputs = nil, nil
	if err != nil {
		c.err = err
		return err
	}
	c.outputs = outputs
	c.state = CallOutputsAvailable
	return nil
}

// start validates the inputs, records the invocation and submits it to the device.
// Errors returned directly leave the call unchanged; failures of the invocation are reported through the future.
func (c *Call) start(flags InvocationFlags) (*xsync.Future[error], error) {
	if c.state != CallInitialized && c.state != CallAcceptingInputs {
		return nil, c.invalidState("Invoke")
	}
	c.state = CallInvoked
	done, outputs, err := c.submit(flags)
	if err != nil {
		c.err = err
		done = xsync.Resolved(err)
	}
	c.pending, c.pendingOutputs = done, outputs
	return done, nil
}

// submit records and submits the invocation.
func (c *Call) submit(flags InvocationFlags) (*xsync.Future[error], []*bufferview.BufferView, error) {
	name := c.describe()
	sig := c.function.function.Signature()
	if len(c.inputs) != len(sig.Parameters) {
		return nil, nil, status.Errorf(status.InvocationFailure, "%s takes %d inputs, but %d were pushed",
			name, len(sig.Parameters), len(c.inputs))
	}
	for ii, input := range c.inputs {
		if !input.Shape().Equal(sig.Parameters[ii]) {
			return nil, nil, status.Errorf(status.InvocationFailure, "%s input #%d has shape %s, but parameter has shape %s",
				name, ii, input.Shape(), sig.Parameters[ii])
		}
	}
	if err := c.session.Err(); err != nil {
		return nil, nil, status.Wrapf(err, status.InvocationFailure, "session %s can't invoke %s", c.session.id, name)
	}

	rec := newRecording(c.session, name)
	results, err := rec.call(c.function, c.inputs, 0)
	if err != nil {
		rec.release()
		return nil, nil, status.Wrapf(err, status.InvocationFailure, "recording %s", name)
	}
	outputs, err := rec.newOutputs(results)
	if err != nil {
		rec.release()
		return nil, nil, status.Wrapf(err, status.InvocationFailure, "allocating outputs of %s", name)
	}
	if flags&InvokeTrace != 0 {
		klog.Infof("session %s, invoking %s: %d commands (mutates state: %v)", c.session.id, name, rec.cb.Len(), rec.cb.MutatesState)
		for ii, cmd := range rec.cb.Commands {
			klog.Infof("  #%d: %s", ii, cmd)
		}
	}

	executed := c.session.device.Submit(c.session.timeline, rec.cb)
	done := xsync.Then(executed, func(err error) error {
		rec.release()
		if err != nil {
			releaseAll(outputs)
			if status.CodeOf(err) == status.Unknown {
				err = status.Wrapf(err, status.InvocationFailure, "invoking %s", name)
			}
			klog.V(1).Infof("session %s: invocation of %s failed: %v", c.session.id, name, err)
		}
		return err
	})
	return done, outputs, nil
}

// Err returns the error of the last invocation, after Wait.
func (c *Call) Err() error { return c.err }

// PopOutput removes and returns the next output. Ownership moves to the caller, who must release it.
//
// It returns an OutputQueueEmpty error if there are no outputs left, or if the call has not completed successfully.
func (c *Call) PopOutput() (*bufferview.BufferView, error) {
	if c.state != CallOutputsAvailable || len(c.outputs) == 0 {
		return nil, status.Errorf(status.OutputQueueEmpty, "Call(%s).PopOutput(): no outputs available (state %s)",
			c.describe(), c.state)
	}
	v := c.outputs[0]
	c.outputs[0] = nil
	c.outputs = c.outputs[1:]
	return v, nil
}

// drop waits for any pending invocation and releases inputs and outputs.
func (c *Call) drop() {
	if c.pending != nil {
		if err := c.pending.Wait(); err == nil {
			releaseAll(c.pendingOutputs)
		}
		c.pending, c.pendingOutputs = nil, nil
	}
	releaseAll(c.inputs)
	releaseAll(c.outputs)
	c.inputs, c.outputs = nil, nil
	c.err = nil
}

// Reset releases inputs and outputs not yet popped, and returns the call to the Initialized state,
// ready to take new inputs. A pending invocation is waited for.
func (c *Call) Reset() error {
	if c.state == CallUninitialized || c.state == CallDeinitialized {
		return c.invalidState("Reset")
	}
	c.drop()
	c.state = CallInitialized
	return nil
}

// Deinitialize releases every reference held by the call, waiting for a pending invocation first.
// It is legal in any state, and calling it more than once is a no-op.
func (c *Call) Deinitialize() {
	if c.state == CallDeinitialized {
		return
	}
	c.drop()
	if c.session != nil {
		c.session.Release()
		c.session = nil
	}
	c.state = CallDeinitialized
}
