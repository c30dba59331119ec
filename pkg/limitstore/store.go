// Package limitstore is the reference policy lookup and authoring backend:
// per-shop product limits behind an HTTP API, stored in memory, PostgreSQL or
// SQLite.
package limitstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

// ErrNotFound is returned when no limit is stored for a product.
var ErrNotFound = errors.New("limitstore: limit not found")

// Limit is the authored bounds for one product of one shop.
type Limit struct {
	Shop        string    `json:"shop"`
	ProductID   string    `json:"productId"`
	Min         *int      `json:"minLimit"`
	Max         *int      `json:"maxLimit"`
	ProductName string    `json:"productName,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate normalizes the product id and checks the bounds. min <= max is
// not checked.
func (l *Limit) Validate() error {
	if strings.TrimSpace(l.Shop) == "" {
		return errors.New("shop is required")
	}
	id, ok := limits.NormalizeProductID(l.ProductID)
	if !ok {
		return fmt.Errorf("invalid productId %q", l.ProductID)
	}
	l.ProductID = string(id)
	if l.Min != nil && *l.Min < 0 {
		return errors.New("minLimit must be >= 0")
	}
	if l.Max != nil && *l.Max <= 0 {
		return errors.New("maxLimit must be > 0")
	}
	return nil
}

// Store persists limits.
type Store interface {
	Get(ctx context.Context, shop, productID string) (*Limit, error)
	Upsert(ctx context.Context, l *Limit) error
	List(ctx context.Context, shop string) ([]*Limit, error)
}
