package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/hostrt/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Limit(t *testing.T) {
	pool := New(2)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	release := xsync.NewFuture[struct{}]()
	for range 6 {
		wg.Add(1)
		go func() {
			assert.True(t, pool.WaitToStart(func() {
				defer wg.Done()
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				release.Wait()
				running.Add(-1)
			}))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), maxRunning.Load())
	assert.False(t, pool.StartIfAvailable(func() {}), "pool should be saturated")
	release.Resolve(struct{}{})
	wg.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestPool_Inline(t *testing.T) {
	pool := NewInline()
	count := 0
	assert.True(t, pool.WaitToStart(func() { count++ }))
	assert.Equal(t, 1, count, "inline pool must run the task before returning")
	assert.False(t, pool.StartIfAvailable(func() { count++ }))
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, pool.MaxParallelism())
	pool.Close()
	assert.False(t, pool.WaitToStart(func() { count++ }), "closed inline pool must not run tasks")
	assert.Equal(t, 1, count)
}

func TestPool_Close(t *testing.T) {
	pool := New(-1)
	var finished atomic.Bool
	require.True(t, pool.WaitToStart(func() {
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	}))
	pool.Close()
	assert.True(t, finished.Load(), "Close must wait for running tasks")
	assert.False(t, pool.WaitToStart(func() {}))
	assert.Equal(t, 0, pool.Running())
}
