package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/store"
)

// DefaultTTL is how long a fetched policy is served without a network call.
const DefaultTTL = 5 * time.Minute

// Stale entries stay in the session store this many TTLs so they can serve as
// the fallback after a failed lookup.
const retentionFactor = 12

type entry struct {
	Policy    *limits.Policy `json:"policy"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// Cache is a read-through policy cache. Failed lookups are never cached, and
// a failure falls back to the last known value however old it is.
type Cache struct {
	lookup Lookup
	store  store.SessionStore
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[limits.ProductID]entry
	order     []limits.ProductID
	seen      map[limits.ProductID]bool
	everKnown bool
}

// NewCache creates a cache. s may be nil for memory-only caching.
func NewCache(l Lookup, s store.SessionStore, c clock.Clock, ttl time.Duration) *Cache {
	if c == nil {
		c = clock.Real{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lookup:  l,
		store:   s,
		clock:   c,
		ttl:     ttl,
		logger:  slog.Default().With("component", "policy_cache"),
		entries: make(map[limits.ProductID]entry),
		seen:    make(map[limits.ProductID]bool),
	}
}

// Get returns the policy for id. (nil, nil) means unconstrained.
func (c *Cache) Get(ctx context.Context, id limits.ProductID) (*limits.Policy, error) {
	p, err := c.resolve(ctx, id)
	if err == nil {
		c.observe(id, p)
	}
	return p, err
}

// GetMany resolves every id concurrently. It always returns the policies that
// could be established (constrained ones only); the error joins the failures
// of the others.
func (c *Cache) GetMany(ctx context.Context, ids []limits.ProductID) (map[limits.ProductID]*limits.Policy, error) {
	ids = dedupe(ids)
	type result struct {
		p   *limits.Policy
		err error
	}
	results := make([]result, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id limits.ProductID) {
			defer wg.Done()
			p, err := c.resolve(ctx, id)
			results[i] = result{p: p, err: err}
		}(i, id)
	}
	wg.Wait()

	out := make(map[limits.ProductID]*limits.Policy, len(ids))
	var errs []error
	for i, id := range ids {
		r := results[i]
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		c.observe(id, r.p)
		if r.p != nil {
			out[id] = r.p
		}
	}
	return out, errors.Join(errs...)
}

// Known returns every constrained policy observed this session, in the order
// products were first seen.
func (c *Cache) Known() *limits.PolicySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := limits.NewPolicySet()
	for _, id := range c.order {
		if e, ok := c.entries[id]; ok && e.Policy.Constrained() {
			set.Put(e.Policy)
		}
	}
	return set
}

// EverKnown reports whether any limit has ever been established.
func (c *Cache) EverKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everKnown
}

func (c *Cache) resolve(ctx context.Context, id limits.ProductID) (*limits.Policy, error) {
	prior, havePrior := c.cached(ctx, id)
	if havePrior && !clock.Expired(c.clock, prior.FetchedAt, c.ttl) {
		return prior.Policy, nil
	}

	p, err := c.lookup.Fetch(ctx, id)
	if err != nil {
		if havePrior {
			c.logger.Warn("lookup failed; serving last known policy", "product_id", id, "fetched_at", prior.FetchedAt, "error", err)
			return prior.Policy, nil
		}
		return nil, fmt.Errorf("product %s: %w", id, err)
	}

	e := entry{Policy: p, FetchedAt: c.clock.Now()}
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
	c.persist(ctx, id, e)
	return p, nil
}

func (c *Cache) cached(ctx context.Context, id limits.ProductID) (entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if ok || c.store == nil {
		return e, ok
	}

	raw, err := c.store.Get(ctx, store.PolicyKey(string(id)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("session store read failed", "product_id", id, "error", err)
		}
		return entry{}, false
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("discarding corrupt cached policy", "product_id", id, "error", err)
		_ = c.store.Delete(ctx, store.PolicyKey(string(id)))
		return entry{}, false
	}
	c.mu.Lock()
	if cur, ok := c.entries[id]; ok {
		e = cur
	} else {
		c.entries[id] = e
	}
	c.mu.Unlock()
	return e, true
}

func (c *Cache) persist(ctx context.Context, id limits.ProductID, e entry) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("encode policy failed", "product_id", id, "error", err)
		return
	}
	if err := c.store.Set(ctx, store.PolicyKey(string(id)), raw, c.ttl*retentionFactor); err != nil {
		c.logger.Warn("session store write failed", "product_id", id, "error", err)
	}
}

func (c *Cache) observe(id limits.ProductID, p *limits.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen[id] {
		c.seen[id] = true
		c.order = append(c.order, id)
	}
	if p.Constrained() {
		c.everKnown = true
	}
}

func dedupe(ids []limits.ProductID) []limits.ProductID {
	seen := make(map[limits.ProductID]bool, len(ids))
	out := make([]limits.ProductID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
