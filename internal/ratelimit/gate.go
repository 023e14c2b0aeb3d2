package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Window    Window
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Gate admits requests against the windows resolved from a Registry. One limiter is kept
// per window key; client identities are isolated inside it.
type Gate struct {
	registry *Registry
	factory  *Factory

	mu       sync.Mutex
	limiters map[string]Limiter
}

func NewGate(registry *Registry, factory *Factory) *Gate {
	return &Gate{
		registry: registry,
		factory:  factory,
		limiters: make(map[string]Limiter),
	}
}

func (g *Gate) now() time.Time {
	if g.factory.clock == nil {
		return time.Now()
	}
	return g.factory.clock.Now()
}

func (g *Gate) Registry() *Registry {
	return g.registry
}

func (g *Gate) Resolve(tag, route, tier string) Window {
	return g.registry.Resolve(tag, route, tier)
}

func (g *Gate) limiterFor(w Window) Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[w.Key]
	if !ok || l.Limit() != w.MaxRequests || l.Window() != w.Duration() {
		l = g.factory.NewLimiter(w.MaxRequests, w.Duration())
		g.limiters[w.Key] = l
	}
	return l
}

// Admit checks and, when allowed, records one request from clientID. It never blocks on
// other clients. Errors come from the backing store only.
func (g *Gate) Admit(ctx context.Context, w Window, clientID string) (Decision, error) {
	limiter := g.limiterFor(w)
	key := w.Key + ":" + clientID

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		return Decision{Window: w, Limit: w.MaxRequests}, err
	}

	d := Decision{
		Allowed: allowed,
		Window:  w,
		Limit:   limiter.Limit(),
	}
	// Headers only: a failed lookup falls back to an empty window ending one
	// full window from now.
	if remaining, err := limiter.Remaining(ctx, key); err == nil {
		d.Remaining = remaining
	}
	resetAt, err := limiter.Reset(ctx, key)
	if err != nil || resetAt.IsZero() {
		resetAt = g.now().Add(w.Duration())
	}
	d.ResetAt = resetAt
	return d, nil
}

// Sweep drops idle per-client state from in-process limiters.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	limiters := make([]Limiter, 0, len(g.limiters))
	for _, l := range g.limiters {
		limiters = append(limiters, l)
	}
	g.mu.Unlock()

	removed := 0
	for _, l := range limiters {
		if s, ok := l.(sweeper); ok {
			removed += s.Sweep()
		}
	}
	return removed
}
