package main

import (
	"context"
	"fmt"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/config"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limitstore"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/store"
)

// openSessionStore returns the configured short-lived store, namespaced by
// ns, and a close func.
func openSessionStore(ctx context.Context, cfg *config.Config, ns string) (store.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case "", "memory":
		return store.NewMemoryStore(ns, clock.Real{}), func() {}, nil
	case "redis":
		rs := store.NewRedisStore(cfg.RedisAddr, "", 0, ns)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return rs, func() { _ = rs.Close() }, nil
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		ss, err := store.NewSQLiteStore(db, ns, clock.Real{})
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		return ss, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q (want memory, redis or sqlite)", cfg.SessionStore)
	}
}

// openLimitStore picks Postgres when LIMITS_DATABASE_URL is set, SQLite when
// a path is given, memory otherwise.
func openLimitStore(ctx context.Context, cfg *config.Config, sqlitePath string) (limitstore.Store, string, func(), error) {
	switch {
	case cfg.LimitsDatabaseURL != "":
		pg, err := limitstore.OpenPostgres(ctx, cfg.LimitsDatabaseURL)
		if err != nil {
			return nil, "", nil, err
		}
		return pg, "postgres", func() { _ = pg.Close() }, nil
	case sqlitePath != "":
		sl, err := limitstore.OpenSQLite(sqlitePath)
		if err != nil {
			return nil, "", nil, err
		}
		return sl, "sqlite", func() { _ = sl.Close() }, nil
	default:
		return limitstore.NewMemoryStore(), "memory", func() {}, nil
	}
}

func loadProfile(path string) (*config.ThemeProfile, error) {
	if path == "" {
		return config.DefaultProfile(), nil
	}
	return config.LoadProfile(path)
}
