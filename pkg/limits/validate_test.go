package limits_test

import (
	"testing"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(id string, qty int) limits.CartLine {
	return limits.CartLine{ProductID: limits.ProductID(id), Quantity: qty}
}

// Single line below the minimum.
func TestValidate_BelowMinimum(t *testing.T) {
	v := limits.Validate(
		[]limits.CartLine{line("P1", 1)},
		limits.NewPolicySet(limits.Bounds("P1", 2, 10)),
	)

	assert.False(t, v.Valid)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, limits.KindMin, v.Violations[0].Kind)
	assert.Equal(t, 1, v.Violations[0].Current)
	assert.Equal(t, 2, v.Violations[0].Bound)
}

// Two variants of one product aggregate.
func TestValidate_AggregatesVariants(t *testing.T) {
	v := limits.Validate(
		[]limits.CartLine{line("P1", 3), line("P1", 4)},
		limits.NewPolicySet(limits.Bounds("P1", 2, 10)),
	)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Violations)
}

// Empty cart with a required product.
func TestValidate_AbsentRequiredProduct(t *testing.T) {
	v := limits.Validate(nil, limits.NewPolicySet(limits.Bounds("P1", 1, 5)))

	assert.False(t, v.Valid)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, limits.KindMin, v.Violations[0].Kind)
	assert.Equal(t, 0, v.Violations[0].Current)
	assert.Equal(t, 1, v.Violations[0].Bound)
}

func TestValidate_AboveMaximum(t *testing.T) {
	p := limits.Bounds("P1", 0, 3)
	p.DisplayName = "Tea"
	v := limits.Validate([]limits.CartLine{line("P1", 4)}, limits.NewPolicySet(p))

	require.Len(t, v.Violations, 1)
	assert.Equal(t, limits.KindMax, v.Violations[0].Kind)
	assert.Equal(t, "Maximum order quantity for Tea is 3. You have 4 in your cart.", v.Violations[0].Message)
}

func TestValidate_MinGreaterThanMaxReportsBoth(t *testing.T) {
	v := limits.Validate([]limits.CartLine{line("P1", 5)}, limits.NewPolicySet(limits.Bounds("P1", 8, 4)))

	require.Len(t, v.Violations, 2)
	assert.Equal(t, limits.KindMin, v.Violations[0].Kind)
	assert.Equal(t, limits.KindMax, v.Violations[1].Kind)
}

func TestValidate_OrderCartFirstThenAbsent(t *testing.T) {
	set := limits.NewPolicySet(
		limits.Bounds("Z", 2, 0),
		limits.Bounds("B", 5, 0),
		limits.Bounds("A", 5, 0),
	)
	v := limits.Validate([]limits.CartLine{line("A", 1), line("C", 1), line("B", 1)}, set)

	require.Len(t, v.Violations, 3)
	assert.Equal(t, limits.ProductID("A"), v.Violations[0].ProductID)
	assert.Equal(t, limits.ProductID("B"), v.Violations[1].ProductID)
	assert.Equal(t, limits.ProductID("Z"), v.Violations[2].ProductID)
	assert.Equal(t, 0, v.Violations[2].Current)
}

func TestValidate_UnconstrainedProductIgnored(t *testing.T) {
	v := limits.Validate([]limits.CartLine{line("P1", 100)}, limits.NewPolicySet())
	assert.True(t, v.Valid)
}

func TestWithAggregates(t *testing.T) {
	out := limits.WithAggregates([]limits.CartLine{line("P1", 3), line("P2", 1), line("P1", 4)})
	assert.Equal(t, 7, out[0].AggregateQuantity)
	assert.Equal(t, 1, out[1].AggregateQuantity)
	assert.Equal(t, 7, out[2].AggregateQuantity)
}

func TestNormalizeProductID(t *testing.T) {
	id, ok := limits.NormalizeProductID(" gid://shopify/Product/42 ")
	assert.True(t, ok)
	assert.Equal(t, limits.ProductID("42"), id)

	_, ok = limits.NormalizeProductID("   ")
	assert.False(t, ok)

	_, ok = limits.NormalizeProductID("two words")
	assert.False(t, ok)
}

func TestVerdictMessage(t *testing.T) {
	v := limits.Validate([]limits.CartLine{line("P1", 1)}, limits.NewPolicySet(limits.Bounds("P1", 2, 0), limits.Bounds("P2", 1, 0)))
	assert.Equal(t,
		"Minimum order quantity for this product is 2. You have 1 in your cart.\n"+
			"Minimum order quantity for this product is 1. You have 0 in your cart.",
		v.Message())
}

func TestValidate_NameFallsBackToCartTitle(t *testing.T) {
	l := line("P1", 5)
	l.Title = "Green Tea"
	v := limits.Validate([]limits.CartLine{l}, limits.NewPolicySet(limits.Bounds("P1", 0, 2)))
	require.Len(t, v.Violations, 1)
	assert.Equal(t, "Maximum order quantity for Green Tea is 2. You have 5 in your cart.", v.Violations[0].Message)
}
