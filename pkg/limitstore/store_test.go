package limitstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func runStoreTests(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "shop-1", "42")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, &Limit{Shop: "shop-1", ProductID: "42", Min: intp(2), ProductName: "Tea"}))
	got, err := s.Get(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 2, *got.Min)
	assert.Nil(t, got.Max)
	assert.False(t, got.UpdatedAt.IsZero())

	// Upsert replaces both bounds, including clearing one.
	require.NoError(t, s.Upsert(ctx, &Limit{Shop: "shop-1", ProductID: "42", Max: intp(6)}))
	got, err = s.Get(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Nil(t, got.Min)
	assert.Equal(t, 6, *got.Max)
	assert.Empty(t, got.ProductName)

	require.NoError(t, s.Upsert(ctx, &Limit{Shop: "shop-1", ProductID: "7", Min: intp(1)}))
	require.NoError(t, s.Upsert(ctx, &Limit{Shop: "shop-2", ProductID: "42", Min: intp(9)}))

	list, err := s.List(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "42", list[0].ProductID)
	assert.Equal(t, "7", list[1].ProductID)

	_, err = s.Get(ctx, "shop-3", "42")
	assert.ErrorIs(t, err, ErrNotFound, "limits are per shop")
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runStoreTests(t, s)
}

func TestLimit_Validate(t *testing.T) {
	cases := []struct {
		name    string
		limit   Limit
		wantErr string
	}{
		{"ok", Limit{Shop: "s", ProductID: "gid://shopify/Product/42", Min: intp(0), Max: intp(3)}, ""},
		{"min above max allowed", Limit{Shop: "s", ProductID: "1", Min: intp(5), Max: intp(2)}, ""},
		{"no shop", Limit{ProductID: "1"}, "shop is required"},
		{"bad product", Limit{Shop: "s", ProductID: "a b"}, "invalid productId"},
		{"negative min", Limit{Shop: "s", ProductID: "1", Min: intp(-1)}, "minLimit"},
		{"zero max", Limit{Shop: "s", ProductID: "1", Max: intp(0)}, "maxLimit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := tc.limit
			err := l.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	l := Limit{Shop: "s", ProductID: " gid://shopify/Product/42 "}
	require.NoError(t, l.Validate())
	assert.Equal(t, "42", l.ProductID)
}
