package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// MemoryFixedWindow counts requests in a window anchored at the key's first admitted
// request. At exactly window after the anchor a new window starts.
type MemoryFixedWindow struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	limit   int
	window  time.Duration
	entries map[string]*fixedEntry
}

type fixedEntry struct {
	start time.Time
	count int
}

func NewMemoryFixedWindow(clk clock.PassiveClock, limit int, window time.Duration) *MemoryFixedWindow {
	return &MemoryFixedWindow{
		clock:   clk,
		limit:   limit,
		window:  window,
		entries: make(map[string]*fixedEntry),
	}
}

// current returns the live entry for key, or nil when there is none or it expired.
func (m *MemoryFixedWindow) current(key string, now time.Time) *fixedEntry {
	e, ok := m.entries[key]
	if !ok || !now.Before(e.start.Add(m.window)) {
		return nil
	}
	return e
}

func (m *MemoryFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := m.current(key, now)
	if e == nil {
		if m.limit <= 0 {
			return false, nil
		}
		m.entries[key] = &fixedEntry{start: now, count: 1}
		return true, nil
	}

	if e.count >= m.limit {
		return false, nil
	}
	e.count++
	return true, nil
}

func (m *MemoryFixedWindow) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.current(key, m.clock.Now())
	if e == nil {
		return m.limit, nil
	}
	return max(m.limit-e.count, 0), nil
}

func (m *MemoryFixedWindow) Limit() int {
	return m.limit
}

func (m *MemoryFixedWindow) Window() time.Duration {
	return m.window
}

func (m *MemoryFixedWindow) Reset(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := m.current(key, now)
	if e == nil {
		return now, nil
	}
	return e.start.Add(m.window), nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryFixedWindow) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key := range m.entries {
		if m.current(key, now) == nil {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// MemorySlidingWindow keeps the admit timestamps of the trailing window per key.
type MemorySlidingWindow struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	limit   int
	window  time.Duration
	entries map[string][]time.Time
}

func NewMemorySlidingWindow(clk clock.PassiveClock, limit int, window time.Duration) *MemorySlidingWindow {
	return &MemorySlidingWindow{
		clock:   clk,
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// prune removes timestamps at or before now-window.
func (m *MemorySlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-m.window)
	stamps := m.entries[key]

	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) == 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = stamps
	return stamps
}

func (m *MemorySlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	stamps := m.prune(key, now)
	if len(stamps) >= m.limit {
		return false, nil
	}
	m.entries[key] = append(stamps, now)
	return true, nil
}

func (m *MemorySlidingWindow) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamps := m.prune(key, m.clock.Now())
	return max(m.limit-len(stamps), 0), nil
}

func (m *MemorySlidingWindow) Limit() int {
	return m.limit
}

func (m *MemorySlidingWindow) Window() time.Duration {
	return m.window
}

// Reset is when the oldest request in the window expires.
func (m *MemorySlidingWindow) Reset(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	stamps := m.prune(key, now)
	if len(stamps) == 0 {
		return now, nil
	}
	return stamps[0].Add(m.window), nil
}

func (m *MemorySlidingWindow) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	before := len(m.entries)
	for key := range m.entries {
		m.prune(key, now)
	}
	return before - len(m.entries)
}

// MemoryTokenBucket refills capacity tokens over one window.
type MemoryTokenBucket struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	capacity int
	window   time.Duration
	buckets  map[string]*bucketState
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewMemoryTokenBucket(clk clock.PassiveClock, capacity int, window time.Duration) *MemoryTokenBucket {
	return &MemoryTokenBucket{
		clock:    clk,
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucketState),
	}
}

// tokensPerSecond is the refill rate that fills an empty bucket in one window.
func tokensPerSecond(capacity int, window time.Duration) float64 {
	if window <= 0 {
		return float64(capacity)
	}
	return float64(capacity) / window.Seconds()
}

func (m *MemoryTokenBucket) refilled(key string, now time.Time) bucketState {
	b, ok := m.buckets[key]
	if !ok {
		return bucketState{Tokens: float64(m.capacity), LastRefill: now}
	}
	elapsed := now.Sub(b.LastRefill).Seconds()
	tokens := math.Min(b.Tokens+elapsed*tokensPerSecond(m.capacity, m.window), float64(m.capacity))
	return bucketState{Tokens: tokens, LastRefill: now}
}

func (m *MemoryTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.refilled(key, m.clock.Now())
	if state.Tokens < 1 {
		return false, nil
	}
	state.Tokens--
	m.buckets[key] = &state
	return true, nil
}

func (m *MemoryTokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int(m.refilled(key, m.clock.Now()).Tokens), nil
}

func (m *MemoryTokenBucket) Limit() int {
	return m.capacity
}

func (m *MemoryTokenBucket) Window() time.Duration {
	return m.window
}

// Reset is when the bucket is full again.
func (m *MemoryTokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	state := m.refilled(key, now)
	missing := float64(m.capacity) - state.Tokens
	seconds := missing / tokensPerSecond(m.capacity, m.window)
	return now.Add(time.Duration(seconds * float64(time.Second))), nil
}

// Sweep drops buckets that have fully refilled.
func (m *MemoryTokenBucket) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key := range m.buckets {
		if m.refilled(key, now).Tokens >= float64(m.capacity) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}
