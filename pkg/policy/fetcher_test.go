package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, srv *httptest.Server, paths ...string) *Fetcher {
	t.Helper()
	if len(paths) == 0 {
		paths = []string{"/apps/order-limits/limits"}
	}
	f, err := NewFetcher(srv.URL, "demo.myshopify.com", paths,
		WithClient(srv.Client()),
		WithRateLimit(0, 0),
		WithClock(clock.NewFake(time.Unix(1_700_000_000, 0))),
	)
	require.NoError(t, err)
	return f
}

func TestFetch_JSONPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("productId"))
		assert.Equal(t, "demo.myshopify.com", r.URL.Query().Get("shop"))
		assert.NotEmpty(t, r.URL.Query().Get("_"), "cache-busting parameter")
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"minLimit": 2, "maxLimit": "5", "productName": "  Green   Tea "}`))
	}))
	defer srv.Close()

	p, err := newTestFetcher(t, srv).Fetch(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, *p.Min)
	assert.Equal(t, 5, *p.Max)
	assert.Equal(t, "Green Tea", p.DisplayName)
	assert.Equal(t, "42", string(p.ProductID))
	assert.False(t, p.FetchedAt.IsZero())
}

func TestFetch_CleanNegative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"minLimit": null, "maxLimit": ""}`))
	}))
	defer srv.Close()

	p, err := newTestFetcher(t, srv).Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFetch_FallsBackToNextEndpoint(t *testing.T) {
	var primary atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/primary" {
			primary.Add(1)
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"maxLimit": 3}`))
	}))
	defer srv.Close()

	p, err := newTestFetcher(t, srv, "/primary", "/secondary").Fetch(context.Background(), "7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.Min)
	assert.Equal(t, 3, *p.Max)
	assert.Equal(t, int32(1), primary.Load())
}

func TestFetch_TextExtractionFromHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>Minimum quantity: 4</p><p>"maxLimit": "9"</p></body></html>`))
	}))
	defer srv.Close()

	p, err := newTestFetcher(t, srv).Fetch(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 4, *p.Min)
	assert.Equal(t, 9, *p.Max)
}

func TestFetch_UnrecognizableHTMLIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>Page not found</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv).Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestFetch_SchemaViolationIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"minLimit": true}`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv).Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestFetch_AllEndpointsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv, "/a", "/b").Fetch(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLookupFailed)

	var le *LookupError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, http.StatusForbidden, le.Status)
	assert.Contains(t, err.Error(), "/b")
}

func TestNewFetcher_RequiresEndpoint(t *testing.T) {
	_, err := NewFetcher("http://x", "", nil)
	assert.Error(t, err)
}
