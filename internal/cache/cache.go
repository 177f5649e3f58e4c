// Package cache provides a small byte-oriented TTL cache with in-memory and
// Redis implementations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores opaque values with a time to live. A ttl <= 0 means the entry
// does not expire.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, c Cache, key string, v any) error {
	b, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Cache. Expired entries are dropped lazily on
// read and swept when the map grows past maxEntries.
type Memory struct {
	clock      Clock
	maxEntries int

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates a Memory cache holding at most maxEntries live entries
// (0 means 10000).
func NewMemory(maxEntries int) *Memory {
	return NewMemoryWithClock(maxEntries, realClock{})
}

// NewMemoryWithClock creates a Memory cache with a custom clock (for testing).
func NewMemoryWithClock(maxEntries int, clock Clock) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Memory{clock: clock, maxEntries: maxEntries, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	now := m.clock.Now()
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.sweep(now)
		if len(m.entries) >= m.maxEntries {
			m.evictOne()
		}
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// sweep must be called with mu held.
func (m *Memory) sweep(now time.Time) {
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// evictOne drops the entry closest to expiry. Must be called with mu held.
func (m *Memory) evictOne() {
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || (!e.expiresAt.IsZero() && (soonest.IsZero() || e.expiresAt.Before(soonest))) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(m.entries, victim)
}
