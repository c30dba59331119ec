package limitstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS product_limits (
	shop         TEXT NOT NULL,
	product_id   TEXT NOT NULL,
	min_limit    INTEGER,
	max_limit    INTEGER,
	product_name TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (shop, product_id)
)`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a lib/pq connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the limits table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate product_limits: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, shop, productID string) (*Limit, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT shop, product_id, min_limit, max_limit, product_name, updated_at FROM product_limits WHERE shop = $1 AND product_id = $2",
		shop, productID)
	l, err := scanLimit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limit: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, l *Limit) error {
	query := `
		INSERT INTO product_limits (shop, product_id, min_limit, max_limit, product_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (shop, product_id) DO UPDATE SET
			min_limit = EXCLUDED.min_limit,
			max_limit = EXCLUDED.max_limit,
			product_name = EXCLUDED.product_name,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, l.Shop, l.ProductID, nullInt(l.Min), nullInt(l.Max), l.ProductName)
	if err != nil {
		return fmt.Errorf("failed to upsert limit: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, shop string) ([]*Limit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT shop, product_id, min_limit, max_limit, product_name, updated_at FROM product_limits WHERE shop = $1 ORDER BY product_id",
		shop)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collect(rows)
}

// Close closes the database.
func (s *PostgresStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanLimit(r scanner) (*Limit, error) {
	var (
		l        Limit
		lo, hi sql.NullInt64
	)
	if err := r.Scan(&l.Shop, &l.ProductID, &lo, &hi, &l.ProductName, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Min = intPtr(lo)
	l.Max = intPtr(hi)
	return &l, nil
}

func collect(rows *sql.Rows) ([]*Limit, error) {
	var out []*Limit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
