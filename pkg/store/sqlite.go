package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore on a SQLite table. Expired rows are
// ignored on read and purged lazily.
type SQLiteStore struct {
	db    *sql.DB
	ns    string
	clock clock.Clock
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB, ns string, c clock.Clock) (*SQLiteStore, error) {
	if c == nil {
		c = clock.Real{}
	}
	s := &SQLiteStore{db: db, ns: ns, clock: c}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS session_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = s.clock.Now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		namespaced(s.ns, key), value, expires)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires int64
	k := namespaced(s.ns, key)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM session_entries WHERE key = ?`, k).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if expires != 0 && s.clock.Now().UnixNano() >= expires {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE key = ?`, k)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE key = ?`, namespaced(s.ns, key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
