// Package cart reads the storefront's own cart snapshot endpoint and keeps the
// single authoritative view of current cart contents.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

// Reader fetches cart contents. Reads never fail: on error the last applied
// snapshot is returned. Each read takes a sequence number when it starts; a
// result is applied only if no later-started read has been applied already.
type Reader struct {
	client  *http.Client
	cartURL string
	logger  *slog.Logger

	mu         sync.Mutex
	nextSeq    uint64
	appliedSeq uint64
	current    []limits.CartLine
	haveRead   bool
}

// NewReader creates a reader for storefrontURL + cartPath (e.g. "/cart.js").
func NewReader(client *http.Client, storefrontURL, cartPath string) *Reader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cartPath == "" {
		cartPath = "/cart.js"
	}
	return &Reader{
		client:  client,
		cartURL: strings.TrimRight(storefrontURL, "/") + cartPath,
		logger:  slog.Default().With("component", "cart"),
	}
}

// Read fetches the cart and returns the authoritative snapshot after applying it.
func (r *Reader) Read(ctx context.Context) []limits.CartLine {
	r.mu.Lock()
	r.nextSeq++
	seq := r.nextSeq
	r.mu.Unlock()

	lines, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.logger.Warn("cart read failed; using last snapshot", "seq", seq, "error", err)
		return cloneLines(r.current)
	}
	if seq < r.appliedSeq {
		r.logger.Debug("discarding superseded cart read", "seq", seq, "applied", r.appliedSeq)
		return cloneLines(r.current)
	}
	r.appliedSeq = seq
	r.current = lines
	r.haveRead = true
	return cloneLines(r.current)
}

// Snapshot returns the last applied cart lines.
func (r *Reader) Snapshot() []limits.CartLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneLines(r.current)
}

// HasSnapshot reports whether any read has succeeded.
func (r *Reader) HasSnapshot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haveRead
}

type cartPayload struct {
	Items []cartItem `json:"items"`
}

type cartItem struct {
	ProductID    json.RawMessage `json:"product_id"`
	VariantID    json.RawMessage `json:"variant_id"`
	ID           json.RawMessage `json:"id"`
	Quantity     int             `json:"quantity"`
	ProductTitle string          `json:"product_title"`
	Title        string          `json:"title"`
}

func (r *Reader) fetch(ctx context.Context) ([]limits.CartLine, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cartURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cart request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cart request: unexpected status %d", resp.StatusCode)
	}

	var payload cartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}

	lines := make([]limits.CartLine, 0, len(payload.Items))
	for _, it := range payload.Items {
		pid, ok := limits.NormalizeProductID(rawID(it.ProductID))
		if !ok {
			continue
		}
		variant := rawID(it.VariantID)
		if variant == "" {
			variant = rawID(it.ID)
		}
		title := it.ProductTitle
		if title == "" {
			title = it.Title
		}
		lines = append(lines, limits.CartLine{
			ProductID: pid,
			VariantID: variant,
			Quantity:  it.Quantity,
			Title:     title,
		})
	}
	return limits.WithAggregates(lines), nil
}

// rawID accepts ids encoded as JSON numbers or strings.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

func cloneLines(in []limits.CartLine) []limits.CartLine {
	if in == nil {
		return []limits.CartLine{}
	}
	return append([]limits.CartLine(nil), in...)
}
