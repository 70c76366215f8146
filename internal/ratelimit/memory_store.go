package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	removed bool
}

// MemoryStore keeps counters in process. Each key has its own lock so hits on
// different identities never contend.
type MemoryStore struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	for {
		value, _ := s.entries.LoadOrStore(key, &memoryEntry{})
		entry := value.(*memoryEntry)

		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}
		decision := entry.hit(s.now(), limit, window)
		entry.mu.Unlock()
		return decision, nil
	}
}

func (e *memoryEntry) hit(now time.Time, limit int, window time.Duration) Decision {
	if e.count == 0 || !now.Before(e.resetAt) {
		e.count = 1
		e.resetAt = now.Add(window)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1}
	}
	if e.count >= limit {
		return Decision{Allowed: false, Limit: limit, RetryAfter: e.resetAt.Sub(now)}
	}
	e.count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - e.count}
}

// Purge drops entries whose window has ended and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if s.evict(key, value.(*memoryEntry), now) {
			removed++
		}
		return true
	})
	return removed
}

// evict removes entry if its window has ended. It only deletes the map slot
// while it still holds entry, so a replacement created by a later Hit survives
// a purge that observed the old one.
func (s *MemoryStore) evict(key any, entry *memoryEntry, now time.Time) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed || now.Before(entry.resetAt) {
		return false
	}
	entry.removed = true
	s.entries.CompareAndDelete(key, entry)
	return true
}

// RunJanitor purges expired entries every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}

func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
