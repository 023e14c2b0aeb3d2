package ratelimit

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/storage"
)

const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

// Factory builds limiters for one backend: Redis when a client is set, in-process otherwise.
type Factory struct {
	redis     *storage.RedisClient
	clock     clock.PassiveClock
	algorithm string
}

func NewMemoryFactory(clk clock.PassiveClock, algorithm string) *Factory {
	return &Factory{clock: clk, algorithm: algorithm}
}

func NewRedisFactory(redis *storage.RedisClient, clk clock.PassiveClock, algorithm string) *Factory {
	return &Factory{redis: redis, clock: clk, algorithm: algorithm}
}

func (f *Factory) Algorithm() string {
	switch f.algorithm {
	case AlgorithmSlidingWindow, AlgorithmTokenBucket:
		return f.algorithm
	default:
		return AlgorithmFixedWindow
	}
}

func (f *Factory) NewLimiter(limit int, window time.Duration) Limiter {
	if f.redis != nil {
		switch f.Algorithm() {
		case AlgorithmTokenBucket:
			return NewTokenBucket(f.redis, f.clock, limit, window)
		case AlgorithmSlidingWindow:
			return NewSlidingWindowLimiter(f.redis, f.clock, limit, window)
		default:
			return NewFixedWindow(f.redis, f.clock, limit, window)
		}
	}

	switch f.Algorithm() {
	case AlgorithmTokenBucket:
		return NewMemoryTokenBucket(f.clock, limit, window)
	case AlgorithmSlidingWindow:
		return NewMemorySlidingWindow(f.clock, limit, window)
	default:
		return NewMemoryFixedWindow(f.clock, limit, window)
	}
}
