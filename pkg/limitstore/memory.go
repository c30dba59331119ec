package limitstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	limits map[string]*Limit
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limits: make(map[string]*Limit), now: time.Now}
}

func key(shop, productID string) string { return shop + "/" + productID }

func (s *MemoryStore) Get(_ context.Context, shop, productID string) (*Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[key(shop, productID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Upsert(_ context.Context, l *Limit) error {
	cp := *l
	cp.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[key(l.Shop, l.ProductID)] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, shop string) ([]*Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Limit
	for _, l := range s.limits {
		if l.Shop == shop {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
