// Package store provides short-lived, session-scoped key/value storage used for
// the persisted verdict and per-product policy entries.
//
// Implementations: in-memory (single process), Redis (shared), SQLite (local file).
// Every implementation namespaces keys so one store can back many sessions.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// SessionStore abstracts ephemeral key/value state with per-entry TTL.
type SessionStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Keys used by the session.
const (
	VerdictKey       = "orderLimitValidation"
	PolicyKeyPrefix  = "orderLimits_"
	defaultNamespace = "cartguard"
)

// PolicyKey returns the storage key for a product's cached policy.
func PolicyKey(productID string) string {
	return PolicyKeyPrefix + productID
}

func namespaced(ns, key string) string {
	if ns == "" {
		ns = defaultNamespace
	}
	return ns + ":" + key
}
