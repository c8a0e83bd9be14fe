package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepository struct {
	entries []Entry
	failErr error
	mu      sync.RWMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// FailWith makes every subsequent Create return err. Pass nil to recover.
func (r *MemoryRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *MemoryRepository) Create(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failErr != nil {
		return r.failErr
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]Entry, int64, error) {
	filter = filter.normalized()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Entry
	for _, e := range r.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.UserID != nil && (e.UserID == nil || *e.UserID != *filter.UserID) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []Entry{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryRepository) Anonymize(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.entries {
		e := &r.entries[i]
		if e.CreatedAt.Before(before) && (e.IPAddress != nil || e.UserAgent != nil) {
			e.IPAddress = nil
			e.UserAgent = nil
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Purge(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	var n int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(before) && !e.Severity.Retained() {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

// Entries returns a snapshot of every stored entry in insertion order.
func (r *MemoryRepository) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the recorded action tags in insertion order.
func (r *MemoryRepository) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}
