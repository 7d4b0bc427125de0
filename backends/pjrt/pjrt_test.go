package pjrt

import (
	"net/url"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/backends/kernels"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) backends.DeviceBackend {
	if len(GetAvailablePlugins()) == 0 {
		t.Skip("no PJRT plugins available")
	}
	driver := must.M1(New())
	t.Cleanup(driver.Destroy)
	device, err := driver.CreateDevice("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(device.Destroy)
	return device
}

func TestBuffers(t *testing.T) {
	device := newTestDevice(t)
	allocator := device.Allocator()
	buf, err := allocator.AllocateWithData(backends.DefaultParams, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, buf.WriteAt([]byte{9, 9}, 1))
	got := make([]byte, 4)
	require.NoError(t, buf.ReadAt(got, 0))
	assert.Equal(t, []byte{1, 9, 9, 4}, got)
	assert.Equal(t, int64(4), allocator.Statistics().BytesLive)
	buf.Release()
	assert.Panics(t, buf.Release)
	assert.Equal(t, int64(0), allocator.Statistics().BytesLive)

	_, err = allocator.Allocate(backends.BufferParams{Type: backends.MemoryTypeHostCoherent}, 4)
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)
}

func TestSubmit(t *testing.T) {
	device := newTestDevice(t)
	allocator := device.Allocator()
	lhs := must.M1(allocator.AllocateWithData(backends.DefaultParams, kernels.Bytes([]float32{1, 2, 3})))
	rhs := must.M1(allocator.AllocateWithData(backends.DefaultParams, kernels.Bytes([]float32{10, 20, 30})))
	out := must.M1(allocator.Allocate(backends.DefaultParams, 12))
	defer lhs.Release()
	defer rhs.Release()
	defer out.Release()

	cb := backends.NewCommandBuffer("mul")
	cb.Dispatch("mul", kernels.Mul, dtypes.Float32, out, lhs, rhs)
	require.NoError(t, device.Submit(nil, cb).Wait())
	got := make([]byte, 12)
	require.NoError(t, out.ReadAt(got, 0))
	assert.Equal(t, []float32{10, 40, 90}, kernels.View[float32](got))
}

func TestBufferOutlivesDevice(t *testing.T) {
	if len(GetAvailablePlugins()) == 0 {
		t.Skip("no PJRT plugins available")
	}
	driver := must.M1(New())
	device := must.M1(driver.CreateDevice("", nil, nil))
	c := device.(*Device).client
	buf, err := device.Allocator().AllocateWithData(backends.DefaultParams, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, c.users, "device and buffer")

	device.Destroy()
	driver.Destroy()
	assert.Equal(t, 1, c.users, "buffer keeps the client alive")
	got := make([]byte, 4)
	require.NoError(t, buf.ReadAt(got, 0))
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	buf.Release()
	assert.Equal(t, 0, c.users)
}

func TestUnavailable(t *testing.T) {
	driver := must.M1(New())
	defer driver.Destroy()
	_, err := driver.CreateDevice("no-such-plugin", url.Values{}, nil)
	assert.True(t, status.Is(err, status.DeviceUnavailable), "got %v", err)
}
