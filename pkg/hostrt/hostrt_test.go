package hostrt_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/core/bufferview"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/hostrt"
	"github.com/gomlx/hostrt/pkg/module"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	vec4    = shapes.Make(dtypes.Float32, 4)
	lhsData = []float32{1.0, 1.1, 1.2, 1.3}
	rhsData = []float32{10.0, 100.0, 1000.0, 10000.0}
	wantMul = []float32{10.0, 110.0, 1200.0, 13000.0}
)

var testDevices = []string{"local-sync", "local-task://?workers=2"}

func buildSimpleMul() *module.Bytecode {
	b := module.NewBuilder("module")
	fn := b.NewFunction("simple_mul")
	fn.Return(module.Mul(fn.Parameter(vec4), fn.Parameter(vec4)))
	return must.M1(b.Build())
}

func buildCounter() *module.Bytecode {
	b := module.NewBuilder("counter")
	count := b.Global("count", shapes.Make(dtypes.Int32), nil)
	step := b.NewFunction("step")
	next := module.Add(module.GlobalLoad(step, count), module.ConstantOf(step, []int32{1}))
	module.GlobalStore(step, count, next)
	step.Return(next)
	peek := b.NewFunction("peek")
	peek.Return(module.GlobalLoad(peek, count))
	return must.M1(b.Build())
}

// newSession creates an instance, device and session, released at the end of the test.
func newSession(t *testing.T, deviceURI string) *hostrt.Session {
	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{}))
	t.Cleanup(instance.Release)
	device := must.M1(instance.CreateDevice(deviceURI))
	t.Cleanup(device.Release)
	session := must.M1(hostrt.NewSession(instance, hostrt.SessionOptions{}, device))
	t.Cleanup(session.Release)
	return session
}

func pushFloats(t *testing.T, call *hostrt.Call, allocator backends.Allocator, flat []float32) {
	view, err := bufferview.FromFlatData(allocator, flat, len(flat))
	require.NoError(t, err)
	require.NoError(t, call.PushInput(view))
	view.Release()
}

func popFlat[T dtypes.Supported](t *testing.T, call *hostrt.Call) []T {
	view, err := call.PopOutput()
	require.NoError(t, err)
	defer view.Release()
	return must.M1(bufferview.FlatData[T](view))
}

func TestSimpleMul(t *testing.T) {
	for _, deviceURI := range testDevices {
		t.Run(deviceURI, func(t *testing.T) {
			session := newSession(t, deviceURI)
			image := must.M1(module.Encode(buildSimpleMul()))
			require.NoError(t, session.AppendModuleFromBytes(image))

			call, err := hostrt.InitializeCallByName(session, "module.simple_mul")
			require.NoError(t, err)
			assert.Equal(t, hostrt.CallInitialized, call.State())
			pushFloats(t, call, session.DeviceAllocator(), lhsData)
			assert.Equal(t, hostrt.CallAcceptingInputs, call.State())
			pushFloats(t, call, session.DeviceAllocator(), rhsData)
			require.NoError(t, call.Invoke(hostrt.InvokeTrace))
			assert.Equal(t, hostrt.CallOutputsAvailable, call.State())

			result, err := call.PopOutput()
			require.NoError(t, err)
			assert.Equal(t, "4xf32", result.Shape().String())
			got := must.M1(bufferview.FlatData[float32](result))
			for ii := range wantMul {
				assert.InDelta(t, wantMul[ii], got[ii], 1e-3)
			}
			result.Release()

			_, err = call.PopOutput()
			assert.Equal(t, status.OutputQueueEmpty, status.CodeOf(err))
			call.Deinitialize()
			call.Deinitialize()
			assert.Equal(t, hostrt.CallDeinitialized, call.State())
			assert.Equal(t, int64(0), session.DeviceAllocator().Statistics().BuffersLive, "all buffers released")
		})
	}
}

func TestCallProtocol(t *testing.T) {
	session := newSession(t, "local-sync")
	require.NoError(t, session.AppendModule(buildSimpleMul()))

	_, err := hostrt.InitializeCallByName(session, "module.missing")
	assert.Equal(t, status.FunctionNotFound, status.CodeOf(err))
	_, err = hostrt.InitializeCallByName(session, "other.simple_mul")
	assert.Equal(t, status.FunctionNotFound, status.CodeOf(err))
	_, err = session.LookupFunction("no_dots")
	assert.Equal(t, status.FunctionNotFound, status.CodeOf(err))

	call := must.M1(hostrt.InitializeCallByName(session, "module.simple_mul"))
	defer call.Deinitialize()

	// Fewer inputs than parameters.
	pushFloats(t, call, session.DeviceAllocator(), lhsData)
	err = call.Invoke(hostrt.InvokeDefault)
	assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
	assert.Equal(t, hostrt.CallInvoked, call.State())
	_, err = call.PopOutput()
	assert.Equal(t, status.OutputQueueEmpty, status.CodeOf(err))

	// No second invocation, nor new inputs, without a Reset.
	err = call.Invoke(hostrt.InvokeDefault)
	assert.Equal(t, status.InvalidState, status.CodeOf(err))
	view := must.M1(bufferview.FromFlatData(session.DeviceAllocator(), rhsData, 4))
	assert.Equal(t, status.InvalidState, status.CodeOf(call.PushInput(view)))

	// More inputs than parameters.
	require.NoError(t, call.Reset())
	assert.Equal(t, 0, call.NumInputs())
	require.NoError(t, call.PushInput(view))
	require.NoError(t, call.PushInput(view))
	assert.Equal(t, status.InputArityExceeded, status.CodeOf(call.PushInput(view)))
	assert.Equal(t, int64(3), view.RefCount(), "the call retains its inputs")

	// Shape mismatch.
	require.NoError(t, call.Reset())
	assert.Equal(t, int64(1), view.RefCount())
	scalar := must.M1(bufferview.FromFlatData(session.DeviceAllocator(), []float32{1}))
	require.NoError(t, call.PushInput(view))
	require.NoError(t, call.PushInput(scalar))
	err = call.Invoke(hostrt.InvokeDefault)
	assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
	scalar.Release()
	view.Release()

	// Asynchronous invocation with the right inputs after a Reset.
	require.NoError(t, call.Reset())
	pushFloats(t, call, session.DeviceAllocator(), lhsData)
	pushFloats(t, call, session.DeviceAllocator(), rhsData)
	require.NoError(t, call.InvokeAsync(hostrt.InvokeDefault).Wait())
	require.NoError(t, call.Wait())
	assert.Equal(t, 1, call.NumOutputs())
	assert.InDelta(t, float32(1200), popFlat[float32](t, call)[2], 1e-3)
}

func TestInstance(t *testing.T) {
	_, err := hostrt.NewInstance(hostrt.InstanceOptions{Drivers: []string{"no-such-driver"}})
	assert.Equal(t, status.DriverInitFailure, status.CodeOf(err))

	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{Drivers: []string{"local-task", "local-sync"}}))
	defer instance.Release()
	assert.Equal(t, "local-task", instance.DriverRegistry().DefaultDriver())
	assert.Equal(t, "host", instance.HostAllocator().Name())

	// Failing to create a device leaves the instance usable.
	_, err = instance.CreateDevice("no-such-driver://0")
	assert.Equal(t, status.UnknownBackend, status.CodeOf(err))
	_, err = instance.CreateDevice("local-sync://7")
	assert.Equal(t, status.DeviceUnavailable, status.CodeOf(err))
	device, err := instance.CreateDevice("local-sync")
	require.NoError(t, err)
	device.Release()

	t.Setenv(backends.HOSTRT_DEVICE, "local-sync")
	device = must.M1(instance.CreateDefaultDevice())
	assert.Equal(t, "local-sync", device.DriverName())
	defer device.Release()

	// Sessions require a device of the same instance.
	_, err = hostrt.NewSession(instance, hostrt.SessionOptions{}, nil)
	assert.Equal(t, status.SessionCreateFailure, status.CodeOf(err))
	other := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{Drivers: []string{"local-sync"}}))
	defer other.Release()
	_, err = hostrt.NewSession(other, hostrt.SessionOptions{}, device)
	assert.Equal(t, status.SessionCreateFailure, status.CodeOf(err))

	// The session keeps the instance and device alive.
	session := must.M1(hostrt.NewSession(instance, hostrt.SessionOptions{}, device))
	assert.NotEqual(t, uuid.Nil, session.ID())
	session.Release()
	assert.False(t, instance.IsReleased())
	assert.False(t, device.IsReleased())
}

func TestDoubleRelease(t *testing.T) {
	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{}))
	device := must.M1(instance.CreateDevice("local-sync"))
	session := must.M1(hostrt.NewSession(instance, hostrt.SessionOptions{}, device))
	require.NoError(t, session.AppendModule(buildSimpleMul()))

	session.Release()
	assert.True(t, session.IsReleased())
	require.Panics(t, session.Release, "second release of a session")

	device.Release()
	assert.True(t, device.IsReleased())
	require.Panics(t, device.Release, "second release of a device")

	instance.Release()
	assert.True(t, instance.IsReleased())
	require.Panics(t, instance.Release, "second release of an instance")
}

func TestSessionPrivateGlobals(t *testing.T) {
	for _, deviceURI := range testDevices {
		t.Run(deviceURI, func(t *testing.T) {
			first := newSession(t, deviceURI)
			second := must.M1(hostrt.NewSession(first.Instance(), hostrt.SessionOptions{}, first.Device()))
			defer second.Release()
			counter := buildCounter()
			require.NoError(t, first.AppendModule(counter))
			require.NoError(t, second.AppendModule(counter))

			step := func(session *hostrt.Session) int32 {
				call := must.M1(hostrt.InitializeCallByName(session, "counter.step"))
				defer call.Deinitialize()
				require.NoError(t, call.Invoke(hostrt.InvokeDefault))
				return popFlat[int32](t, call)[0]
			}
			assert.Equal(t, int32(1), step(first))
			assert.Equal(t, int32(2), step(first))
			assert.Equal(t, int32(1), step(second))
			assert.Equal(t, int32(3), step(first))

			peek := must.M1(hostrt.InitializeCallByName(second, "counter.peek"))
			defer peek.Deinitialize()
			require.NoError(t, peek.Invoke(hostrt.InvokeDefault))
			assert.Equal(t, []int32{1}, popFlat[int32](t, peek))
		})
	}
}

func TestPipelinedInvokeAsync(t *testing.T) {
	for _, deviceURI := range testDevices {
		t.Run(deviceURI, func(t *testing.T) {
			session := newSession(t, deviceURI)
			require.NoError(t, session.AppendModule(buildCounter()))
			const numCalls = 8
			calls := make([]*hostrt.Call, numCalls)
			for ii := range calls {
				calls[ii] = must.M1(hostrt.InitializeCallByName(session, "counter.step"))
				defer calls[ii].Deinitialize()
				_ = calls[ii].InvokeAsync(hostrt.InvokeDefault)
			}
			for ii := numCalls - 1; ii >= 0; ii-- {
				require.NoError(t, calls[ii].Wait())
				assert.Equal(t, []int32{int32(ii + 1)}, popFlat[int32](t, calls[ii]))
			}
			require.NoError(t, session.Wait())
		})
	}
}

// buildHostModule returns a native module "host" with a function "scale" that doubles its input.
func buildHostModule(failures *int) (*module.Native, module.Signature) {
	sig := module.Signature{Parameters: []shapes.Shape{vec4}, Results: []shapes.Shape{vec4}}
	native := module.NewNative("host")
	native.Register("scale", sig, func(inputs, outputs [][]byte) error {
		in := kernels.View[float32](inputs[0])
		out := make([]float32, len(in))
		for ii, v := range in {
			out[ii] = 2 * v
		}
		copy(outputs[0], kernels.Bytes(out))
		return nil
	})
	native.Register("fail", sig, func(inputs, outputs [][]byte) error {
		*failures++
		return errors.New("native failure")
	}).MutatesState = true
	native.Register("fail_stateless", sig, func(inputs, outputs [][]byte) error {
		return errors.New("stateless failure")
	})
	return native, sig
}

func TestImports(t *testing.T) {
	session := newSession(t, "local-task")
	var failures int
	native, sig := buildHostModule(&failures)

	b := module.NewBuilder("app")
	b.Import("host.scale", sig)
	fn := b.NewFunction("scale_and_add")
	x := fn.Parameter(vec4)
	fn.Return(module.Add(module.Call(fn, "host.scale", x)[0], x))
	app := must.M1(b.Build())

	// Imports resolve only against modules appended before.
	err := session.AppendModule(app)
	assert.Equal(t, status.SymbolNotFound, status.CodeOf(err))
	assert.Empty(t, session.Modules())
	require.NoError(t, session.AppendModule(native))
	require.NoError(t, session.AppendModule(app))
	assert.Equal(t, []string{"host", "app"}, session.Modules())
	assert.Equal(t, status.ModuleLoadFailure, status.CodeOf(session.AppendModule(app)), "duplicate module name")

	// Signature mismatch.
	b = module.NewBuilder("mismatch")
	b.Import("host.scale", module.Signature{Parameters: []shapes.Shape{vec4}, Results: []shapes.Shape{vec4, vec4}})
	fn = b.NewFunction("f")
	fn.Return(module.Call(fn, "host.scale", fn.Parameter(vec4))...)
	err = session.AppendModule(must.M1(b.Build()))
	assert.Equal(t, status.ModuleLoadFailure, status.CodeOf(err))

	call := must.M1(hostrt.InitializeCallByName(session, "app.scale_and_add"))
	defer call.Deinitialize()
	pushFloats(t, call, session.DeviceAllocator(), lhsData)
	require.NoError(t, call.Invoke(hostrt.InvokeDefault))
	got := popFlat[float32](t, call)
	for ii, v := range lhsData {
		assert.InDelta(t, 3*v, got[ii], 1e-5)
	}

	// Native functions can be called directly.
	direct := must.M1(hostrt.InitializeCallByName(session, "host.scale"))
	defer direct.Deinitialize()
	pushFloats(t, direct, session.DeviceAllocator(), rhsData)
	require.NoError(t, direct.Invoke(hostrt.InvokeDefault))
	assert.Equal(t, float32(20), popFlat[float32](t, direct)[0])
}

func TestFailures(t *testing.T) {
	for _, deviceURI := range testDevices {
		t.Run(deviceURI, func(t *testing.T) {
			session := newSession(t, deviceURI)
			var failures int
			native, _ := buildHostModule(&failures)
			require.NoError(t, session.AppendModule(native))
			require.NoError(t, session.AppendModule(buildSimpleMul()))

			invoke := func(name string) error {
				call := must.M1(hostrt.InitializeCallByName(session, name))
				defer call.Deinitialize()
				for range call.Function().Signature().Parameters {
					pushFloats(t, call, session.DeviceAllocator(), lhsData)
				}
				return call.Invoke(hostrt.InvokeDefault)
			}

			// Failures of stateless functions don't affect later calls.
			err := invoke("host.fail_stateless")
			assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
			require.NoError(t, session.Err())
			require.NoError(t, invoke("module.simple_mul"))

			// Failures of functions that mutate state poison the session.
			err = invoke("host.fail")
			assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
			assert.Equal(t, 1, failures)
			require.Error(t, session.Err())
			err = invoke("module.simple_mul")
			assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
			assert.Equal(t, int64(0), session.DeviceAllocator().Statistics().BuffersLive)
		})
	}
}

func TestMaxCallDepth(t *testing.T) {
	b := module.NewBuilder("chain")
	previous := ""
	for ii := range 4 {
		fn := b.NewFunction(fmt.Sprintf("f%d", ii))
		x := fn.Parameter(vec4)
		if previous == "" {
			fn.Return(module.Neg(x))
		} else {
			fn.Return(module.Call(fn, previous, x)...)
		}
		previous = fn.Name()
	}
	chain := must.M1(b.Build())

	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{}))
	defer instance.Release()
	device := must.M1(instance.CreateDevice("local-sync"))
	defer device.Release()
	for _, maxDepth := range []int{2, 3} {
		session := must.M1(hostrt.NewSession(instance, hostrt.SessionOptions{MaxCallDepth: maxDepth}, device))
		require.NoError(t, session.AppendModule(chain))
		call := must.M1(hostrt.InitializeCallByName(session, "chain.f3"))
		pushFloats(t, call, session.DeviceAllocator(), lhsData)
		err := call.Invoke(hostrt.InvokeDefault)
		if maxDepth == 2 {
			assert.Equal(t, status.InvocationFailure, status.CodeOf(err))
		} else {
			require.NoError(t, err)
			assert.Equal(t, float32(-1), popFlat[float32](t, call)[0])
		}
		call.Deinitialize()
		session.Release()
	}
}

func TestAppendModuleSources(t *testing.T) {
	session := newSession(t, "local-sync")
	dir := t.TempDir()
	filePath := filepath.Join(dir, "simple_mul"+module.FileExtension)
	require.NoError(t, module.WriteFile(filePath, buildSimpleMul()))
	require.NoError(t, session.AppendModuleFromFile(filePath))

	err := session.AppendModuleFromFile(filepath.Join(dir, "missing.hrtm"))
	assert.Equal(t, status.ModuleLoadFailure, status.CodeOf(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	err = session.AppendModuleFromBytes([]byte("not a module"))
	assert.Equal(t, status.ModuleLoadFailure, status.CodeOf(err))

	image := must.M1(module.Encode(buildCounter()))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/counter.hrtm" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(image)
	}))
	defer server.Close()
	ctx := context.Background()
	require.NoError(t, session.AppendModuleFromURI(ctx, server.URL+"/counter.hrtm"))
	err = session.AppendModuleFromURI(ctx, server.URL+"/other.hrtm")
	assert.Equal(t, status.ModuleLoadFailure, status.CodeOf(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, []string{"module", "counter"}, session.Modules())
}

func TestConcurrentSessions(t *testing.T) {
	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{}))
	defer instance.Release()
	device := must.M1(instance.CreateDevice("local-task://?workers=4"))
	defer device.Release()
	simpleMul := buildSimpleMul()
	counter := buildCounter()

	const numSessions, numCalls = 4, 16
	var g errgroup.Group
	for range numSessions {
		g.Go(func() error {
			session, err := hostrt.NewSession(instance, hostrt.SessionOptions{}, device)
			if err != nil {
				return err
			}
			defer session.Release()
			if err = session.AppendModule(simpleMul); err != nil {
				return err
			}
			if err = session.AppendModule(counter); err != nil {
				return err
			}
			for ii := range numCalls {
				call, err := hostrt.InitializeCallByName(session, "counter.step")
				if err != nil {
					return err
				}
				if err = call.Invoke(hostrt.InvokeDefault); err != nil {
					call.Deinitialize()
					return err
				}
				out, err := call.PopOutput()
				call.Deinitialize()
				if err != nil {
					return err
				}
				got, err := bufferview.FlatData[int32](out)
				out.Release()
				if err != nil {
					return err
				}
				if got[0] != int32(ii+1) {
					return errors.Errorf("session %s: step #%d returned %d", session.ID(), ii, got[0])
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(0), device.Allocator().Statistics().BuffersLive)
}
