package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	f := NewFuture[int]()
	assert.False(t, f.IsResolved())

	var wg sync.WaitGroup
	var sum atomic.Int64
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum.Add(int64(f.Wait()))
		}()
	}
	assert.True(t, f.Resolve(3))
	assert.False(t, f.Resolve(7), "second Resolve must be ignored")
	wg.Wait()
	assert.Equal(t, int64(12), sum.Load())
	assert.Equal(t, 3, f.Wait())

	doubled := Then(f, func(v int) int { return 2 * v })
	select {
	case <-doubled.Done():
	case <-time.After(time.Second):
		t.Fatal("Then() future never resolved")
	}
	assert.Equal(t, 6, doubled.Wait())
	assert.True(t, Resolved("x").IsResolved())
}

func TestRefCount(t *testing.T) {
	var r RefCount
	r.Init("test handle")
	r.Retain()
	assert.Equal(t, int64(2), r.Count())
	assert.False(t, r.Release())
	assert.True(t, r.Release())
	assert.True(t, r.IsReleased())

	// Double release and retain-after-release are defects.
	require.Panics(t, func() { r.Release() })
	require.Panics(t, func() { r.Retain() })
}

func TestInFlight(t *testing.T) {
	f := NewInFlight()
	f.Wait() // Nothing pending, returns immediately.

	f.Add(2)
	assert.Equal(t, 2, f.Pending())
	released := make(chan struct{})
	go func() {
		f.Wait()
		close(released)
	}()
	f.Done()
	select {
	case <-released:
		t.Fatal("Wait() returned with pending work")
	case <-time.After(10 * time.Millisecond):
	}
	f.Done()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after all work finished")
	}
	require.Panics(t, func() { f.Done() })
}
