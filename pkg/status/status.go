// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the error taxonomy shared by every layer of the runtime.
//
// Fallible operations return a plain Go error. Errors created with this package carry a Code
// that survives wrapping (errors.WithMessagef and friends), so callers can branch on the kind of
// failure with CodeOf or Is, and the top-level program can map it to an exit code.
//
// Errors carry a stack trace (from github.com/pkg/errors), printed with "%+v".
package status

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Code enumerates the kinds of failures of the runtime.
type Code int

const (
	// OK is the code for a nil error.
	OK Code = iota
	DriverInitFailure
	UnknownBackend
	DeviceUnavailable
	SessionCreateFailure
	ModuleLoadFailure
	SymbolNotFound
	FunctionNotFound
	InputArityExceeded
	SizeMismatch
	UnsupportedParams
	AllocationFailure
	InvocationFailure
	OutputQueueEmpty

	// InvalidState is returned when an operation is not legal in the current state of a handle,
	// e.g. pushing inputs to a Call that was already invoked.
	InvalidState

	// Unknown is the code of errors that were not created by this package.
	Unknown
)

var codeNames = map[Code]string{
	OK:                   "OK",
	DriverInitFailure:    "DriverInitFailure",
	UnknownBackend:       "UnknownBackend",
	DeviceUnavailable:    "DeviceUnavailable",
	SessionCreateFailure: "SessionCreateFailure",
	ModuleLoadFailure:    "ModuleLoadFailure",
	SymbolNotFound:       "SymbolNotFound",
	FunctionNotFound:     "FunctionNotFound",
	InputArityExceeded:   "InputArityExceeded",
	SizeMismatch:         "SizeMismatch",
	UnsupportedParams:    "UnsupportedParams",
	AllocationFailure:    "AllocationFailure",
	InvocationFailure:    "InvocationFailure",
	OutputQueueEmpty:     "OutputQueueEmpty",
	InvalidState:         "InvalidState",
	Unknown:              "Unknown",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, found := codeNames[c]; found {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// ExitCode to use when a program terminates because of an error with this code.
func (c Code) ExitCode() int {
	return int(c)
}

// Error is an error tagged with a Code.
type Error struct {
	code Code
	err  error
}

// Code of the error.
func (e *Error) Code() Code { return e.code }

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.err.Error())
}

// Unwrap gives access to the wrapped error, for errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.err }

// Cause implements github.com/pkg/errors causer interface.
func (e *Error) Cause() error { return e.err }

// Format implements fmt.Formatter: "%+v" includes the stack trace of the wrapped error.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "%s: %+v", e.code, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// Errorf creates a new error with the given code and a stack trace.
func Errorf(code Code, format string, args ...any) error {
	return &Error{code: code, err: errors.Errorf(format, args...)}
}

// Wrapf tags err with code, adding a message. It returns nil if err is nil.
//
// If err already carries a Code, the new code takes precedence.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, err: errors.WithMessagef(withStack(err), format, args...)}
}

// withStack adds a stack trace to err, unless it already has one.
func withStack(err error) error {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return errors.WithStack(err)
}

// CodeOf returns the Code of the outermost tagged error in the chain of err.
// It returns OK for nil, and Unknown for errors not created by this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.code
	}
	return Unknown
}

// Is returns whether err is tagged with code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
