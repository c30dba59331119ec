package limitstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/policy"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_UpsertThenLookup(t *testing.T) {
	h := NewServer(NewMemoryStore()).Handler()

	rec := post(t, h, "/apps/order-limits/limits", `{"shop":"s1","productId":"gid://shopify/Product/42","minLimit":2,"maxLimit":10,"productName":"Tea"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, p := range []string{"/apps/order-limits/limits", "/apps/order-limits/api/limits"} {
		rec = get(h, p+"?shop=s1&productId=42&_=123")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.JSONEq(t, `{"minLimit":2,"maxLimit":10,"productName":"Tea"}`, rec.Body.String())
	}
}

func TestServer_LookupUnknownIsCleanNegative(t *testing.T) {
	h := NewServer(NewMemoryStore()).Handler()
	rec := get(h, "/apps/order-limits/limits?shop=s1&productId=9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"minLimit":null,"maxLimit":null,"productName":null}`, rec.Body.String())
}

func TestServer_BadRequestsAreProblems(t *testing.T) {
	h := NewServer(NewMemoryStore()).Handler()

	cases := []struct {
		name string
		rec  *httptest.ResponseRecorder
	}{
		{"lookup without shop", get(h, "/apps/order-limits/limits?productId=1")},
		{"lookup without product", get(h, "/apps/order-limits/limits?shop=s1")},
		{"upsert invalid json", post(t, h, "/apps/order-limits/limits", `{`)},
		{"upsert negative min", post(t, h, "/apps/order-limits/limits", `{"shop":"s1","productId":"1","minLimit":-2}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, tc.rec.Code)
			assert.Equal(t, "application/problem+json", tc.rec.Header().Get("Content-Type"))
			var p ProblemDetail
			require.NoError(t, json.Unmarshal(tc.rec.Body.Bytes(), &p))
			assert.Equal(t, http.StatusBadRequest, p.Status)
			assert.NotEmpty(t, p.Detail)
		})
	}
}

func TestServer_ShopFromQueryOnUpsert(t *testing.T) {
	s := NewMemoryStore()
	h := NewServer(s).Handler()
	rec := post(t, h, "/apps/order-limits/api/limits?shop=s2", `{"productId":"5","maxLimit":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	l, err := s.Get(context.Background(), "s2", "5")
	require.NoError(t, err)
	assert.Equal(t, 3, *l.Max)
}

func TestServer_List(t *testing.T) {
	h := NewServer(NewMemoryStore(), WithPrefix("/x")).Handler()
	post(t, h, "/x/limits", `{"shop":"s1","productId":"2","minLimit":1}`)
	post(t, h, "/x/limits", `{"shop":"s1","productId":"1","minLimit":1}`)

	rec := get(h, "/x/shops/s1/limits")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []Limit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ProductID)

	rec = get(h, "/x/shops/empty/limits")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_RateLimited(t *testing.T) {
	h := NewServer(NewMemoryStore(), WithRateLimiter(NewRateLimiter(0.001, 1))).Handler()

	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

// The policy fetcher consumes exactly what the server produces.
func TestServer_ServesPolicyFetcher(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), &Limit{Shop: "s1", ProductID: "42", Min: intp(3), ProductName: "Green  Tea"}))

	srv := httptest.NewServer(NewServer(store).Handler())
	defer srv.Close()

	f, err := policy.NewFetcher(srv.URL, "s1",
		[]string{"/apps/order-limits/limits", "/apps/order-limits/api/limits"},
		policy.WithClient(srv.Client()), policy.WithRateLimit(0, 0))
	require.NoError(t, err)

	p, err := f.Fetch(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, limits.ProductID("42"), p.ProductID)
	assert.Equal(t, 3, *p.Min)
	assert.Nil(t, p.Max)
	assert.Equal(t, "Green Tea", p.DisplayName)

	p, err = f.Fetch(context.Background(), "43")
	require.NoError(t, err)
	assert.Nil(t, p, "unknown product is unconstrained")
}
