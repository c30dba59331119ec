// Package persist carries the last verdict across page navigations so a fresh
// page can gate checkout before any network round-trip completes.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/store"
)

// DefaultTTL is how long a snapshot stays trustworthy.
const DefaultTTL = 5 * time.Minute

// Bridge saves and loads the verdict snapshot.
type Bridge struct {
	store  store.SessionStore
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
}

func NewBridge(s store.SessionStore, c clock.Clock, ttl time.Duration) *Bridge {
	if c == nil {
		c = clock.Real{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bridge{
		store:  s,
		clock:  c,
		ttl:    ttl,
		logger: slog.Default().With("component", "persist"),
	}
}

// Save overwrites the snapshot with v.
func (b *Bridge) Save(ctx context.Context, v limits.Verdict) error {
	snap := limits.Snapshot{
		Valid:      v.Valid,
		Message:    v.Message(),
		CapturedAt: b.clock.Now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	// The store keeps it a little longer than the TTL; staleness is decided on load.
	if err := b.store.Set(ctx, store.VerdictKey, data, 2*b.ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot if one exists and is younger than the TTL.
// Stale or unreadable snapshots are deleted and reported as absent.
func (b *Bridge) Load(ctx context.Context) *limits.Snapshot {
	data, err := b.store.Get(ctx, store.VerdictKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("snapshot read failed", "error", err)
		}
		return nil
	}

	var snap limits.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		b.logger.Warn("discarding unreadable snapshot", "error", err)
		_ = b.store.Delete(ctx, store.VerdictKey)
		return nil
	}
	if snap.CapturedAt.IsZero() || clock.Expired(b.clock, snap.CapturedAt, b.ttl) {
		b.logger.Debug("discarding stale snapshot", "captured_at", snap.CapturedAt)
		_ = b.store.Delete(ctx, store.VerdictKey)
		return nil
	}
	return &snap
}
