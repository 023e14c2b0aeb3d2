package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

// Sorted set of admit times (microseconds). Entries at or before the window start are
// dropped, then the request is added only if the set is under the limit.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	clock  clock.PassiveClock
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, clk clock.PassiveClock, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		clock:  clk,
		limit:  limit,
		window: window,
	}
}

func slidingKey(key string) string {
	return fmt.Sprintf("ratelimit:sliding:%s", key)
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := s.clock.Now()
	windowStart := now.Add(-s.window)

	res, err := s.redis.RunScript(ctx, slidingWindowScript, []string{slidingKey(key)},
		windowStart.UnixMicro(),
		now.UnixMicro(),
		s.limit,
		uuid.NewString(),
		s.window.Milliseconds(),
	)
	if err != nil {
		return false, errors.Wrap(err, "sliding window check failed")
	}
	allowed, _ := res.(int64)
	return allowed == 1, nil
}

func (s *SlidingWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	now := s.clock.Now()
	windowStart := now.Add(-s.window)

	// "(" makes the lower bound exclusive, matching the script's eviction.
	count, err := s.redis.ZCount(ctx, slidingKey(key), fmt.Sprintf("(%d", windowStart.UnixMicro()), "+inf")
	if err != nil {
		return 0, err
	}
	return max(s.limit-int(count), 0), nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

func (s *SlidingWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	now := s.clock.Now()
	windowStart := now.Add(-s.window)

	oldest, err := s.redis.Client().ZRangeByScoreWithScores(ctx, slidingKey(key), &redis.ZRangeBy{
		Min:   fmt.Sprintf("(%d", windowStart.UnixMicro()),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil || len(oldest) == 0 {
		return now, nil
	}

	return time.UnixMicro(int64(oldest[0].Score)).Add(s.window), nil
}
