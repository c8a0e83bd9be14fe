package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Blocker tracks consecutive authentication failures per IP and blocks
// an address once they reach a threshold. Blocks are independent of the
// rate-limit windows.
type Blocker interface {
	// RecordFailure counts one failure and reports whether this failure
	// placed a new block.
	RecordFailure(ctx context.Context, ip string) (bool, error)
	IsBlocked(ctx context.Context, ip string) (bool, error)
	Reset(ctx context.Context, ip string) error
	Block(ctx context.Context, ip string, d time.Duration) error
}

type failures struct {
	count int
	last  time.Time
}

type MemoryBlocker struct {
	threshold int
	duration  time.Duration
	failures  map[string]*failures
	blocked   map[string]time.Time
	mu        sync.Mutex
	now       func() time.Time
}

func NewMemoryBlocker(threshold int, duration time.Duration) *MemoryBlocker {
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	return &MemoryBlocker{
		threshold: threshold,
		duration:  duration,
		failures:  make(map[string]*failures),
		blocked:   make(map[string]time.Time),
		now:       time.Now,
	}
}

func (b *MemoryBlocker) RecordFailure(_ context.Context, ip string) (bool, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if until, ok := b.blocked[ip]; ok && now.Before(until) {
		return false, nil
	}

	f, ok := b.failures[ip]
	if !ok || now.Sub(f.last) >= b.duration {
		f = &failures{}
		b.failures[ip] = f
	}
	f.count++
	f.last = now

	if f.count < b.threshold {
		return false, nil
	}
	b.blocked[ip] = now.Add(b.duration)
	delete(b.failures, ip)
	return true, nil
}

func (b *MemoryBlocker) IsBlocked(_ context.Context, ip string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.blocked[ip]
	return ok && b.now().Before(until), nil
}

func (b *MemoryBlocker) Reset(_ context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.failures, ip)
	return nil
}

func (b *MemoryBlocker) Block(_ context.Context, ip string, d time.Duration) error {
	if d <= 0 {
		d = b.duration
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blocked[ip] = b.now().Add(d)
	delete(b.failures, ip)
	return nil
}

// Sweep drops expired blocks and stale failure counters.
func (b *MemoryBlocker) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for ip, until := range b.blocked {
		if !now.Before(until) {
			delete(b.blocked, ip)
			removed++
		}
	}
	for ip, f := range b.failures {
		if now.Sub(f.last) >= b.duration {
			delete(b.failures, ip)
			removed++
		}
	}
	return removed
}
