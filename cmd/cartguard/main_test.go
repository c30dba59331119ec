package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limitstore"
)

const productPage = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","productID":"42","name":"Tea"}</script>
</head><body>
<form action="/cart" method="post"><button type="submit" name="checkout">Check out</button></form>
</body></html>`

// storefront serves a product page, the cart and the limit lookup routes.
func storefront(t *testing.T, cartJSON string, limit *limitstore.Limit) *httptest.Server {
	t.Helper()
	ls := limitstore.NewMemoryStore()
	if limit != nil {
		require.NoError(t, ls.Upsert(context.Background(), limit))
	}
	lookup := limitstore.NewServer(ls).Handler()

	mux := http.NewServeMux()
	mux.HandleFunc("/products/tea", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(productPage))
	})
	mux.HandleFunc("/cart.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cartJSON))
	})
	mux.Handle("/apps/", lookup)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CARTGUARD_SESSION_STORE", "THEME_PROFILE", "LIMITS_DATABASE_URL", "OTEL_ENABLED", "CARTGUARD_LOOKUP_PATHS", "CARTGUARD_CART_PATH"} {
		t.Setenv(k, "")
	}
	t.Setenv("CARTGUARD_SHOP", "s1")
	t.Setenv("LOG_LEVEL", "ERROR")
}

func intp(v int) *int { return &v }

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, Run([]string{"cartguard", "help"}, &out, &errOut))
	assert.Contains(t, out.String(), "check")
	assert.Contains(t, out.String(), "serve")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"cartguard", "nope"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command: nope")
	assert.Equal(t, 2, Run([]string{"cartguard"}, &out, &errOut))
}

func TestCheck_BlocksBelowMinimum(t *testing.T) {
	isolateEnv(t)
	srv := storefront(t,
		`{"items":[{"product_id":42,"variant_id":1,"quantity":1,"product_title":"Tea"}]}`,
		&limitstore.Limit{Shop: "s1", ProductID: "42", Min: intp(3)})

	var out, errOut bytes.Buffer
	code := Run([]string{"cartguard", "check", "--json", srv.URL + "/products/tea"}, &out, &errOut)
	require.Equal(t, 1, code, errOut.String())

	var res checkResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "42", res.ProductID)
	assert.Equal(t, "structured_data", res.Strategy)
	assert.Equal(t, "blocked", res.Gate)
	assert.False(t, res.Verdict.Valid)
	assert.Contains(t, res.Message, "Minimum order quantity for Tea is 3")
	require.Len(t, res.Policies, 1)
}

func TestCheck_OpenWithinLimits(t *testing.T) {
	isolateEnv(t)
	srv := storefront(t,
		`{"items":[{"product_id":42,"variant_id":1,"quantity":4,"product_title":"Tea"}]}`,
		&limitstore.Limit{Shop: "s1", ProductID: "42", Min: intp(3), Max: intp(5)})

	var out, errOut bytes.Buffer
	code := Run([]string{"cartguard", "check", srv.URL + "/products/tea"}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "open")
	assert.Contains(t, out.String(), "min 3 max 5")
}

func TestCheck_RenderShowsGatedPage(t *testing.T) {
	isolateEnv(t)
	srv := storefront(t, `{"items":[]}`, &limitstore.Limit{Shop: "s1", ProductID: "42", Min: intp(2)})

	var out, errOut bytes.Buffer
	code := Run([]string{"cartguard", "check", "--render", srv.URL + "/products/tea"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), `id="order-limit-banner"`)
	assert.Contains(t, out.String(), "order-limit-blocked")
}

func TestCheck_Usage(t *testing.T) {
	isolateEnv(t)
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"cartguard", "check"}, &out, &errOut))
	assert.Equal(t, 2, Run([]string{"cartguard", "check", "not a url"}, &out, &errOut))
}

func TestCheck_UnknownSessionStore(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CARTGUARD_SESSION_STORE", "etcd")
	srv := storefront(t, `{"items":[]}`, nil)

	var out, errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"cartguard", "check", srv.URL + "/products/tea"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown session store")
}

func TestDoctor_MemoryDefaults(t *testing.T) {
	isolateEnv(t)
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, Run([]string{"cartguard", "doctor"}, &out, &errOut), errOut.String())
	assert.Contains(t, out.String(), "session_store")
	assert.Contains(t, out.String(), "theme_profile")
}

func TestDoctor_FailsOnBadProfile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("THEME_PROFILE", t.TempDir()+"/missing.yaml")
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, Run([]string{"cartguard", "doctor"}, &out, &errOut))
}
