package store

import (
	"context"
	"sync"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
)

// MemoryStore implements SessionStore in memory.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	ns      string
	clock   clock.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryStore creates a store for namespace ns. A nil clock uses wall time.
func NewMemoryStore(ns string, c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{ns: ns, clock: c, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[namespaced(s.ns, key)] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	k := namespaced(s.ns, key)
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !s.clock.Now().Before(e.expires) {
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, namespaced(s.ns, key))
	return nil
}
