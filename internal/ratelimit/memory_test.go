package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func admitN(t *testing.T, l Limiter, key string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ok, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be admitted", i+1)
	}
}

func denied(t *testing.T, l Limiter, key string) bool {
	t.Helper()
	ok, err := l.Allow(context.Background(), key)
	require.NoError(t, err)
	return !ok
}

// Both window limiters must admit maxRequests, deny the next one, still deny one second
// before the window elapses and admit again exactly when it does.
func TestMemoryWindowBoundaries(t *testing.T) {
	const limit = 5
	window := 10 * time.Second

	builders := map[string]func(*testingclock.FakeClock) Limiter{
		"fixed": func(c *testingclock.FakeClock) Limiter {
			return NewMemoryFixedWindow(c, limit, window)
		},
		"sliding": func(c *testingclock.FakeClock) Limiter {
			return NewMemorySlidingWindow(c, limit, window)
		},
	}

	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(epoch)
			l := build(clk)

			admitN(t, l, "client-a", limit)
			assert.True(t, denied(t, l, "client-a"))

			clk.Step(window - time.Second)
			assert.True(t, denied(t, l, "client-a"))

			clk.Step(time.Second)
			admitN(t, l, "client-a", 1)
		})
	}
}

func TestMemoryFixedWindowDenialIsNotRecorded(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	l := NewMemoryFixedWindow(clk, 2, time.Minute)
	ctx := context.Background()

	admitN(t, l, "c", 2)
	for i := 0; i < 5; i++ {
		assert.True(t, denied(t, l, "c"))
	}

	remaining, err := l.Remaining(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	reset, err := l.Reset(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Minute), reset)
}

func TestMemoryClientsAreIsolated(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	l := NewMemoryFixedWindow(clk, 1, time.Minute)

	admitN(t, l, "a", 1)
	assert.True(t, denied(t, l, "a"))
	admitN(t, l, "b", 1)
}

func TestMemorySlidingWindowReset(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	l := NewMemorySlidingWindow(clk, 2, 10*time.Second)
	ctx := context.Background()

	admitN(t, l, "c", 1)
	clk.Step(4 * time.Second)
	admitN(t, l, "c", 1)

	reset, err := l.Reset(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), reset)

	// the first request falls out of the window, the second is still in it
	clk.Step(6 * time.Second)
	remaining, err := l.Remaining(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestMemoryTokenBucket(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	l := NewMemoryTokenBucket(clk, 4, 4*time.Second)

	admitN(t, l, "c", 4)
	assert.True(t, denied(t, l, "c"))

	clk.Step(time.Second)
	admitN(t, l, "c", 1)
	assert.True(t, denied(t, l, "c"))
}

func TestMemorySweep(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	fixed := NewMemoryFixedWindow(clk, 1, time.Minute)
	sliding := NewMemorySlidingWindow(clk, 1, time.Minute)

	for i := 0; i < 3; i++ {
		admitN(t, fixed, fmt.Sprintf("c%d", i), 1)
		admitN(t, sliding, fmt.Sprintf("c%d", i), 1)
	}

	assert.Equal(t, 0, fixed.Sweep())
	clk.Step(time.Minute)
	assert.Equal(t, 3, fixed.Sweep())
	assert.Equal(t, 3, sliding.Sweep())
}

func TestMemoryFixedWindowConcurrentAdmits(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	l := NewMemoryFixedWindow(clk, 50, time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(context.Background(), "shared"); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), admitted.Load())
}
