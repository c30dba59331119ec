package limitstore

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

// DefaultPrefix is the app proxy mount point the storefront fetches through.
const DefaultPrefix = "/apps/order-limits"

const maxBody = 64 << 10

// lookupResponse is the wire shape consumed by policy.Fetcher.
type lookupResponse struct {
	MinLimit    *int    `json:"minLimit"`
	MaxLimit    *int    `json:"maxLimit"`
	ProductName *string `json:"productName"`
}

// Server exposes lookup and upsert over HTTP.
type Server struct {
	store   Store
	limiter *RateLimiter
	prefix  string
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimiter installs a per-IP limiter on every route.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithPrefix changes the mount point.
func WithPrefix(prefix string) ServerOption {
	return func(s *Server) { s.prefix = "/" + strings.Trim(prefix, "/") }
}

func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{
		store:  store,
		prefix: DefaultPrefix,
		logger: slog.Default().With("component", "limitstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router. Both the primary and the fallback lookup
// paths answer GET; POST on either upserts.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route(s.prefix, func(r chi.Router) {
		for _, p := range []string{"/limits", "/api/limits"} {
			r.Get(p, s.lookup)
			r.Post(p, s.upsert)
		}
		r.Get("/shops/{shop}/limits", s.list)
	})
	return r
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shop := q.Get("shop")
	if shop == "" {
		writeBadRequest(w, r, "shop is required")
		return
	}
	id, ok := limits.NormalizeProductID(q.Get("productId"))
	if !ok {
		writeBadRequest(w, r, "productId is required")
		return
	}

	// The storefront proxy must not cache lookups.
	w.Header().Set("Cache-Control", "no-store")

	l, err := s.store.Get(r.Context(), shop, string(id))
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, lookupResponse{})
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	resp := lookupResponse{MinLimit: l.Min, MaxLimit: l.Max}
	if l.ProductName != "" {
		name := l.ProductName
		resp.ProductName = &name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeBadRequest(w, r, "unreadable body")
		return
	}
	var l Limit
	if err := json.Unmarshal(body, &l); err != nil {
		writeBadRequest(w, r, "invalid JSON: "+err.Error())
		return
	}
	if l.Shop == "" {
		l.Shop = r.URL.Query().Get("shop")
	}
	if err := l.Validate(); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if err := s.store.Upsert(r.Context(), &l); err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	s.logger.Info("limit upserted", "shop", l.Shop, "product_id", l.ProductID)

	saved, err := s.store.Get(r.Context(), l.Shop, l.ProductID)
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.List(r.Context(), chi.URLParam(r, "shop"))
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	if out == nil {
		out = []*Limit{}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
