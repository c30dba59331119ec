package limitstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps db and creates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens path with the pure-Go driver.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS product_limits (
			shop TEXT NOT NULL,
			product_id TEXT NOT NULL,
			min_limit INTEGER,
			max_limit INTEGER,
			product_name TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (shop, product_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate product_limits: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, shop, productID string) (*Limit, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT shop, product_id, min_limit, max_limit, product_name, updated_at FROM product_limits WHERE shop = ? AND product_id = ?",
		shop, productID)
	l, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limit: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, l *Limit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_limits (shop, product_id, min_limit, max_limit, product_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop, product_id) DO UPDATE SET
			min_limit = excluded.min_limit,
			max_limit = excluded.max_limit,
			product_name = excluded.product_name,
			updated_at = excluded.updated_at
	`, l.Shop, l.ProductID, nullInt(l.Min), nullInt(l.Max), l.ProductName, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert limit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, shop string) ([]*Limit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT shop, product_id, min_limit, max_limit, product_name, updated_at FROM product_limits WHERE shop = ? ORDER BY product_id",
		shop)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*Limit
	for rows.Next() {
		l, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// updated_at is stored as unix nanoseconds.
func scanSQLite(r scanner) (*Limit, error) {
	var (
		l        Limit
		lo, hi sql.NullInt64
		updated  int64
	)
	if err := r.Scan(&l.Shop, &l.ProductID, &lo, &hi, &l.ProductName, &updated); err != nil {
		return nil, err
	}
	l.Min = intPtr(lo)
	l.Max = intPtr(hi)
	l.UpdatedAt = time.Unix(0, updated).UTC()
	return &l, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
