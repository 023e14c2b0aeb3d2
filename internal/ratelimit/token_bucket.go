package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

// Refill then take one token. The hash is only written when a token is taken.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end
tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)
if tokens < 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens - 1), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

type TokenBucket struct {
	redis    *storage.RedisClient
	clock    clock.PassiveClock
	capacity int
	window   time.Duration
}

func NewTokenBucket(redis *storage.RedisClient, clk clock.PassiveClock, capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		redis:    redis,
		clock:    clk,
		capacity: capacity,
		window:   window,
	}
}

func bucketKey(key string) string {
	return fmt.Sprintf("ratelimit:bucket:%s", key)
}

// tokens per millisecond
func (t *TokenBucket) rate() float64 {
	return tokensPerSecond(t.capacity, t.window) / 1000
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := t.clock.Now().UnixMilli()
	ttl := max(t.window.Milliseconds()*2, 1000)

	res, err := t.redis.RunScript(ctx, tokenBucketScript, []string{bucketKey(key)},
		t.capacity,
		strconv.FormatFloat(t.rate(), 'f', -1, 64),
		now,
		ttl,
	)
	if err != nil {
		return false, errors.Wrap(err, "token bucket check failed")
	}
	allowed, _ := res.(int64)
	return allowed == 1, nil
}

func (t *TokenBucket) current(ctx context.Context, key string) (float64, error) {
	vals, err := t.redis.HMGet(ctx, bucketKey(key), "tokens", "ts")
	if err != nil {
		return 0, err
	}

	tokensStr, ok1 := vals[0].(string)
	tsStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return float64(t.capacity), nil
	}

	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return float64(t.capacity), nil
	}
	ts, err := strconv.ParseFloat(tsStr, 64)
	if err != nil {
		return float64(t.capacity), nil
	}

	elapsed := math.Max(0, float64(t.clock.Now().UnixMilli())-ts)
	return math.Min(float64(t.capacity), tokens+elapsed*t.rate()), nil
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	tokens, err := t.current(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(tokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

// For token bucket, window represents the time to fully refill
func (t *TokenBucket) Window() time.Duration {
	return t.window
}

func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	tokens, err := t.current(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	now := t.clock.Now()
	missing := float64(t.capacity) - tokens
	ms := missing / t.rate()
	return now.Add(time.Duration(ms * float64(time.Millisecond))), nil
}
