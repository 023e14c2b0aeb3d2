package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow records one request for key if it fits the limit. A denied request is not recorded.
	Allow(ctx context.Context, key string) (bool, error)

	Remaining(ctx context.Context, key string) (int, error)

	Limit() int

	Window() time.Duration

	Reset(ctx context.Context, key string) (time.Time, error)
}

// sweeper is implemented by in-process limiters that need idle state dropped.
type sweeper interface {
	Sweep() int
}
