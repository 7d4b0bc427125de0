// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostrt

import (
	"context"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/core/bufferview"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/module"
	"github.com/gomlx/hostrt/pkg/modulesource"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/gomlx/hostrt/pkg/support/xsync"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// DefaultMaxCallDepth is the default limit of nested function calls during an invocation.
const DefaultMaxCallDepth = 64

// SessionOptions configures NewSession.
type SessionOptions struct {
	// MaxCallDepth limits nested function calls, DefaultMaxCallDepth if 0.
	MaxCallDepth int

	// Fetcher used by AppendModuleFromURI. If nil, a default modulesource.Fetcher is used.
	Fetcher *modulesource.Fetcher
}

// Session is a set of modules loaded on a Device, with their private state (module globals).
//
// A Session is not safe for concurrent use, but distinct Sessions sharing a Device can be used
// concurrently: they execute on separate timelines of the device queue.
type Session struct {
	refs     xsync.RefCount
	id       uuid.UUID
	options  SessionOptions
	instance *Instance
	device   *backends.Device
	timeline *backends.Timeline

	// modules in append order, which is the symbol resolution order.
	modules []*loadedModule
	byName  map[string]*loadedModule
}

// loadedModule is a module instantiated in a session.
type loadedModule struct {
	module module.Module

	// bytecode is set if module is a *module.Bytecode.
	bytecode *module.Bytecode

	// globals are the session private instances of the bytecode module globals.
	globals []*bufferview.BufferView

	// imports maps the qualified names of the imports to the functions they resolved to.
	imports map[string]boundFunction
}

// boundFunction is a function of a module loaded in a session.
type boundFunction struct {
	owner    *loadedModule
	function module.Function
}

// qualifiedName of the function.
func (f boundFunction) qualifiedName() string {
	return module.QualifiedName(f.owner.module.Name(), f.function.Name())
}

// NewSession creates a Session using device, which must have been created by the registry of instance.
// The session retains both the instance and the device.
//
// It returns a SessionCreateFailure if the instance or device are nil or released, or don't belong together.
func NewSession(instance *Instance, options SessionOptions, device *backends.Device) (*Session, error) {
	if instance == nil || instance.IsReleased() {
		return nil, status.Errorf(status.SessionCreateFailure, "nil or released instance")
	}
	if device == nil || device.IsReleased() {
		return nil, status.Errorf(status.SessionCreateFailure, "nil or released device")
	}
	if device.Registry() != instance.registry {
		return nil, status.Errorf(status.SessionCreateFailure, "device %s was not created by this instance", device.URI())
	}
	if options.MaxCallDepth < 0 {
		return nil, status.Errorf(status.SessionCreateFailure, "invalid MaxCallDepth=%d", options.MaxCallDepth)
	}
	if options.MaxCallDepth == 0 {
		options.MaxCallDepth = DefaultMaxCallDepth
	}
	instance.Retain()
	device.Retain()
	s := &Session{
		id:       uuid.New(),
		options:  options,
		instance: instance,
		device:   device,
		byName:   make(map[string]*loadedModule),
	}
	s.refs.Init("Session(" + s.id.String() + ")")
	s.timeline = backends.NewTimeline("session-" + s.id.String())
	klog.V(1).Infof("session %s created on device %s", s.id, device.URI())
	return s, nil
}

func (s *Session) assertValid(method string) {
	if s == nil || s.refs.IsReleased() {
		exceptions.Panicf("Session.%s(): session is nil or released", method)
	}
}

// ID of the session, used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Instance that created the session.
func (s *Session) Instance() *Instance { return s.instance }

// Device the session executes on.
func (s *Session) Device() *backends.Device { return s.device }

// DeviceAllocator returns the allocator of the device, to allocate the inputs of calls.
func (s *Session) DeviceAllocator() backends.Allocator { return s.device.Allocator() }

// HostAllocator returns the host allocator of the instance.
func (s *Session) HostAllocator() backends.Allocator { return s.instance.HostAllocator() }

// Modules returns the names of the modules appended, in order.
func (s *Session) Modules() []string {
	names := make([]string, len(s.modules))
	for ii, m := range s.modules {
		names[ii] = m.module.Name()
	}
	return names
}

// AppendModule loads m into the session. Its imports are resolved against the modules appended before it,
// and its globals are instantiated, private to this session.
//
// It returns a ModuleLoadFailure if m is invalid, if a module with the same name was already appended,
// or if an import resolves to a function with a different signature, and a SymbolNotFound if an import
// can't be resolved. On failure the session is unchanged.
func (s *Session) AppendModule(m module.Module) error {
	s.assertValid("AppendModule")
	if m == nil {
		return status.Errorf(status.ModuleLoadFailure, "nil module")
	}
	name := m.Name()
	if _, found := s.byName[name]; found {
		return status.Errorf(status.ModuleLoadFailure, "module %q already appended to session %s", name, s.id)
	}
	loaded := &loadedModule{module: m, imports: make(map[string]boundFunction)}
	if bytecode, ok := m.(*module.Bytecode); ok {
		if err := bytecode.Validate(); err != nil {
			return err
		}
		loaded.bytecode = bytecode
	}
	for _, imp := range m.Imports() {
		fn, err := s.lookup(imp.QualifiedName)
		if err != nil {
			return status.Wrapf(err, status.SymbolNotFound, "module %q imports %q", name, imp.QualifiedName)
		}
		if got := fn.function.Signature(); !got.Equal(imp.Signature) {
			return status.Errorf(status.ModuleLoadFailure, "module %q imports %q with signature %s, but it has signature %s",
				name, imp.QualifiedName, imp.Signature, got)
		}
		loaded.imports[imp.QualifiedName] = fn
	}
	if err := s.instantiateGlobals(loaded); err != nil {
		return err
	}
	s.modules = append(s.modules, loaded)
	s.byName[name] = loaded
	klog.V(1).Infof("session %s: module %q appended, exports %v", s.id, name, m.Exports())
	return nil
}

// instantiateGlobals allocates the globals of a bytecode module on the device.
func (s *Session) instantiateGlobals(loaded *loadedModule) error {
	if loaded.bytecode == nil {
		return nil
	}
	for _, global := range loaded.bytecode.Globals {
		var view *bufferview.BufferView
		var err error
		if len(global.Initial) == 0 {
			view, err = bufferview.AllocateZeroed(s.DeviceAllocator(), global.Shape, shapes.EncodingDenseRowMajor, backends.DefaultParams)
		} else {
			view, err = bufferview.Allocate(s.DeviceAllocator(), global.Shape, shapes.EncodingDenseRowMajor, backends.DefaultParams, global.Initial)
		}
		if err != nil {
			releaseAll(loaded.globals)
			loaded.globals = nil
			return status.Wrapf(err, status.CodeOf(err), "instantiating global %q of module %q", global.Name, loaded.module.Name())
		}
		loaded.globals = append(loaded.globals, view)
	}
	return nil
}

// AppendModuleFromBytes decodes a module image (see module.Decode) and appends it.
func (s *Session) AppendModuleFromBytes(image []byte) error {
	m, err := module.Decode(image)
	if err != nil {
		return err
	}
	return s.AppendModule(m)
}

// AppendModuleFromFile reads a module image from a file and appends it.
func (s *Session) AppendModuleFromFile(filePath string) error {
	image, err := os.ReadFile(filePath)
	if err != nil {
		return status.Wrapf(err, status.ModuleLoadFailure, "reading module file")
	}
	return s.AppendModuleFromBytes(image)
}

// AppendModuleFromURI fetches a module image (see modulesource.Fetcher.Fetch) and appends it.
func (s *Session) AppendModuleFromURI(ctx context.Context, uri string) error {
	fetcher := s.options.Fetcher
	if fetcher == nil {
		fetcher = &modulesource.Fetcher{}
	}
	image, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return status.Wrapf(err, status.ModuleLoadFailure, "fetching module %q", uri)
	}
	return s.AppendModuleFromBytes(image)
}

// lookup resolves an exported function by qualified name.
func (s *Session) lookup(qualifiedName string) (boundFunction, error) {
	moduleName, functionName, err := module.SplitQualifiedName(qualifiedName)
	if err != nil {
		return boundFunction{}, err
	}
	loaded, found := s.byName[moduleName]
	if !found {
		return boundFunction{}, status.Errorf(status.FunctionNotFound, "no module %q in session, loaded modules: %q",
			moduleName, s.Modules())
	}
	fn, found := loaded.module.Function(functionName)
	if !found {
		return boundFunction{}, status.Errorf(status.FunctionNotFound, "module %q has no exported function %q, exports: %q",
			moduleName, functionName, loaded.module.Exports())
	}
	return boundFunction{owner: loaded, function: fn}, nil
}

// LookupFunction returns the exported function with the given qualified name ("module.function").
// It returns a FunctionNotFound error if there is no such function.
func (s *Session) LookupFunction(qualifiedName string) (module.Function, error) {
	s.assertValid("LookupFunction")
	fn, err := s.lookup(qualifiedName)
	if err != nil {
		return nil, err
	}
	return fn.function, nil
}

// Wait blocks until every invocation submitted by the session completed, and returns the result of the last one.
func (s *Session) Wait() error {
	return s.timeline.Wait()
}

// Err returns the failure of a state mutating invocation that poisoned the session, or nil.
// Once poisoned, every further invocation fails.
func (s *Session) Err() error {
	return s.timeline.Err()
}

// IsReleased returns whether the last reference to the session was released.
func (s *Session) IsReleased() bool { return s.refs.IsReleased() }

// Retain adds a reference to the session.
func (s *Session) Retain() { s.refs.Retain() }

// Release drops a reference to the session. The last release waits for pending invocations, frees the
// module globals and releases the device and the instance.
func (s *Session) Release() {
	if !s.refs.Release() {
		return
	}
	if err := s.timeline.Wait(); err != nil {
		klog.V(1).Infof("session %s: last invocation failed before release: %v", s.id, err)
	}
	for _, loaded := range s.modules {
		releaseAll(loaded.globals)
		loaded.globals = nil
	}
	s.modules = nil
	s.byName = nil
	s.device.Release()
	s.instance.Release()
	klog.V(1).Infof("session %s destroyed", s.id)
}

// releaseAll releases every non-nil view.
func releaseAll(views []*bufferview.BufferView) {
	for _, v := range views {
		if v != nil {
			v.Release()
		}
	}
}
