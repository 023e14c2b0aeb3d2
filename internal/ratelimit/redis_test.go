package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *storage.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, storage.NewRedisFromClient(client)
}

func TestRedisFixedWindow(t *testing.T) {
	mr, rc := newTestRedis(t)
	clk := testingclock.NewFakeClock(epoch)
	l := NewFixedWindow(rc, clk, 3, 10*time.Second)
	ctx := context.Background()

	admitN(t, l, "c", 3)
	assert.True(t, denied(t, l, "c"))
	assert.True(t, denied(t, l, "c"))

	// denials do not bump the counter
	val, err := mr.Get("ratelimit:fixed:c")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	remaining, err := l.Remaining(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	reset, err := l.Reset(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), reset)

	mr.FastForward(9 * time.Second)
	assert.True(t, denied(t, l, "c"))

	mr.FastForward(time.Second)
	admitN(t, l, "c", 1)
}

func TestRedisSlidingWindow(t *testing.T) {
	_, rc := newTestRedis(t)
	clk := testingclock.NewFakeClock(epoch)
	l := NewSlidingWindowLimiter(rc, clk, 2, 10*time.Second)
	ctx := context.Background()

	admitN(t, l, "c", 2)
	assert.True(t, denied(t, l, "c"))

	reset, err := l.Reset(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), reset)

	clk.Step(9 * time.Second)
	assert.True(t, denied(t, l, "c"))

	clk.Step(time.Second)
	remaining, err := l.Remaining(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	admitN(t, l, "c", 2)
}

func TestRedisTokenBucket(t *testing.T) {
	_, rc := newTestRedis(t)
	clk := testingclock.NewFakeClock(epoch)
	l := NewTokenBucket(rc, clk, 2, 2*time.Second)
	ctx := context.Background()

	remaining, err := l.Remaining(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	admitN(t, l, "c", 2)
	assert.True(t, denied(t, l, "c"))

	clk.Step(time.Second)
	admitN(t, l, "c", 1)
	assert.True(t, denied(t, l, "c"))
}

func TestRedisFactory(t *testing.T) {
	_, rc := newTestRedis(t)
	clk := testingclock.NewFakeClock(epoch)

	assert.IsType(t, &FixedWindowLimiter{}, NewRedisFactory(rc, clk, AlgorithmFixedWindow).NewLimiter(1, time.Second))
	assert.IsType(t, &SlidingWindowLimiter{}, NewRedisFactory(rc, clk, AlgorithmSlidingWindow).NewLimiter(1, time.Second))
	assert.IsType(t, &TokenBucket{}, NewRedisFactory(rc, clk, AlgorithmTokenBucket).NewLimiter(1, time.Second))
}
