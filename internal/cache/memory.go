package cache

import (
	"context"
	"sync"
	"time"
)

// Stats is a snapshot of memory store counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Memory is an in-process Store guarded by a RWMutex.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	hits    int64
	misses  int64
}

// MemoryOption customizes a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the time source used for write times and expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m := &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && !expired(entry.CreatedAt, m.now(), m.ttl) {
		m.mu.Lock()
		m.hits++
		m.mu.Unlock()
		return entry, true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
	if ok {
		// a concurrent Put may have refreshed the entry in between
		if current, still := m.entries[key]; still && current.CreatedAt.Equal(entry.CreatedAt) {
			delete(m.entries, key)
		}
	}

	return Entry{}, false, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Key: key, Value: stored, CreatedAt: m.now()}

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)

	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

func (m *Memory) TTL() time.Duration {
	return m.ttl
}
