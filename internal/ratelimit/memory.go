package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is the accounting state of one (class, key) pair.
type bucket struct {
	consumed     int
	windowEnd    time.Time
	blockedUntil time.Time
}

func (b *bucket) idle(now time.Time) bool {
	return !now.Before(b.windowEnd) && !now.Before(b.blockedUntil)
}

// MemoryStore is a process-local Store. Buckets are created on demand and
// evicted opportunistically once both their window and block have lapsed.
//
// This type is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	cleanupN uint64
	gcEvery  uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		gcEvery: 5000,
	}
}

// Consume implements Store.
func (m *MemoryStore) Consume(_ context.Context, key string, p Policy, now time.Time) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// GC before touching key so a stale bucket for key is evicted too.
	m.cleanupN++
	if m.cleanupN >= m.gcEvery {
		for k, b := range m.buckets {
			if b.idle(now) {
				delete(m.buckets, k)
			}
		}
		m.cleanupN = 0
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}

	if now.Before(b.blockedUntil) {
		return Usage{Consumed: p.Points + 1, ResetIn: b.blockedUntil.Sub(now), Blocked: true}, nil
	}
	if !now.Before(b.windowEnd) {
		b.consumed = 0
		b.windowEnd = now.Add(p.Window)
	}

	b.consumed++
	if b.consumed > p.Points {
		if p.Block > 0 {
			b.blockedUntil = now.Add(p.Block)
			// The window restarts once the block lifts.
			b.consumed = 0
			b.windowEnd = b.blockedUntil
			return Usage{Consumed: p.Points + 1, ResetIn: p.Block, Blocked: true}, nil
		}
		return Usage{Consumed: b.consumed, ResetIn: b.windowEnd.Sub(now), Blocked: true}, nil
	}
	return Usage{Consumed: b.consumed, ResetIn: b.windowEnd.Sub(now)}, nil
}

// Ping implements Store; the local store is always available.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of tracked buckets.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
