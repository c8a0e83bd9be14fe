package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes one counted request.
type Result struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter counts requests per (identifier, bucket) in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, identifier string, bucket Bucket) (Result, error)
}

// Sweeper is implemented by backends that keep expired state in process.
type Sweeper interface {
	Sweep(now time.Time) int
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process. It is not shared between
// instances, so it only suits single-instance deployments and tests.
type MemoryLimiter struct {
	rules   Rules
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

func NewMemoryLimiter(rules Rules) *MemoryLimiter {
	return &MemoryLimiter{
		rules:   rules,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, identifier string, bucket Bucket) (Result, error) {
	rule := l.rules.For(bucket)
	now := l.now()
	k := key(identifier, bucket)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[k] = w
	}
	w.count++

	return Result{
		Allowed: w.count <= rule.Limit,
		Count:   w.count,
		Limit:   rule.Limit,
		ResetAt: w.resetAt,
	}, nil
}

// Sweep drops windows that have ended and returns how many were removed.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
