package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

// Increments only while under the limit, so a denied request leaves the counter alone.
// The key expires one window after its first increment.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	clock  clock.PassiveClock
	limit  int
	window time.Duration
}

func NewFixedWindow(redis *storage.RedisClient, clk clock.PassiveClock, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		clock:  clk,
		limit:  limit,
		window: window,
	}
}

func fixedKey(key string) string {
	return fmt.Sprintf("ratelimit:fixed:%s", key)
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := f.redis.RunScript(ctx, fixedWindowScript, []string{fixedKey(key)}, f.limit, f.window.Milliseconds())
	if err != nil {
		return false, errors.Wrap(err, "fixed window check failed")
	}
	allowed, _ := res.(int64)
	return allowed == 1, nil
}

func (f *FixedWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	val, err := f.redis.Get(ctx, fixedKey(key))
	if err == redis.Nil {
		return f.limit, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	return max(f.limit-count, 0), nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

// Returns the time at which the limit resets
func (f *FixedWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	ttl, err := f.redis.PTTL(ctx, fixedKey(key))
	if err != nil {
		return time.Time{}, err
	}

	now := f.clock.Now()
	if ttl <= 0 {
		return now, nil
	}
	return now.Add(ttl), nil
}
