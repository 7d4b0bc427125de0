package heap

import (
	"testing"
	"unsafe"

	"github.com/gomlx/hostrt/backends"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	assert.Equal(t, 0, sizeClass(0))
	assert.Equal(t, 0, sizeClass(32))
	assert.Equal(t, 1, sizeClass(33))
	assert.Equal(t, 1, sizeClass(64))
	assert.Equal(t, numSizeClasses-1, sizeClass(1<<maxClassLog2))
	assert.Equal(t, -1, sizeClass(1<<maxClassLog2+1))
}

func TestAllocate(t *testing.T) {
	a := New(Config{})
	buf, err := a.AllocateWithData(backends.BufferParams{}, []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 5, buf.ByteLength())
	assert.Equal(t, backends.AccessAll, buf.Params().Access)
	host := buf.(backends.HostBuffer).HostBytes()
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, host)
	assert.Zero(t, uintptr(unsafe.Pointer(&host[0]))%8, "heap buffers must be 8 bytes aligned")

	dst := make([]byte, 2)
	require.NoError(t, buf.ReadAt(dst, 3))
	assert.Equal(t, []byte{4, 5}, dst)
	require.NoError(t, buf.WriteAt([]byte{9}, 0))
	assert.Equal(t, byte(9), host[0])
	err = buf.ReadAt(dst, 4)
	assert.True(t, status.Is(err, status.SizeMismatch), "got %v", err)

	stats := a.Statistics()
	assert.Equal(t, int64(5), stats.BytesLive)
	assert.Equal(t, int64(1), stats.BuffersLive)
	buf.Release()
	assert.Panics(t, func() { buf.Release() })
	stats = a.Statistics()
	assert.Equal(t, int64(0), stats.BytesLive)
	assert.Equal(t, int64(5), stats.BytesPeak)
	assert.Equal(t, int64(1), stats.Releases)

	// Recycled memory must come back zeroed.
	for range 10 {
		buf, err = a.Allocate(backends.BufferParams{}, 5)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 5), buf.(*Buffer).HostBytes())
		require.NoError(t, buf.WriteAt([]byte{7, 7, 7, 7, 7}, 0))
		buf.Release()
	}
}

func TestLimits(t *testing.T) {
	a := New(Config{Name: "small", MaxBytes: 100, MaxAllocationSize: 64, MemoryTypes: backends.MemoryTypeHostLocal})
	_, err := a.Allocate(backends.BufferParams{Type: backends.MemoryTypeDeviceLocal}, 8)
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)

	_, err = a.Allocate(backends.BufferParams{}, 65)
	assert.True(t, status.Is(err, status.AllocationFailure), "got %v", err)

	b1, err := a.Allocate(backends.BufferParams{}, 64)
	require.NoError(t, err)
	_, err = a.Allocate(backends.BufferParams{}, 64)
	assert.True(t, status.Is(err, status.AllocationFailure), "got %v", err)
	b1.Release()
	b2, err := a.Allocate(backends.BufferParams{}, 64)
	require.NoError(t, err)
	b2.Release()
}

func TestAccess(t *testing.T) {
	a := NewHost()
	buf, err := a.Allocate(backends.BufferParams{Access: backends.AccessRead}, 8)
	require.NoError(t, err)
	defer buf.Release()
	err = buf.WriteAt([]byte{1}, 0)
	assert.True(t, status.Is(err, status.UnsupportedParams), "got %v", err)
	require.NoError(t, buf.ReadAt(make([]byte, 8), 0))
}
