package limits_test

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

func buildCart(ids []int, qtys []int) []limits.CartLine {
	var lines []limits.CartLine
	for i := 0; i < len(ids) && i < len(qtys); i++ {
		lines = append(lines, limits.CartLine{
			ProductID: limits.ProductID(string(rune('A' + ids[i]))),
			Quantity:  qtys[i],
		})
	}
	return lines
}

func buildPolicies(mins []int, maxs []int) *limits.PolicySet {
	set := limits.NewPolicySet()
	for i := 0; i < len(mins) && i < len(maxs); i++ {
		set.Put(limits.Bounds(limits.ProductID(string(rune('A'+i))), mins[i], maxs[i]))
	}
	return set
}

// Property: Validate(cart, set) == Validate(cart, set) for any input.
func TestValidateDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("validation is deterministic", prop.ForAll(
		func(ids, qtys, mins, maxs []int) bool {
			cart := buildCart(ids, qtys)
			set := buildPolicies(mins, maxs)
			return reflect.DeepEqual(limits.Validate(cart, set), limits.Validate(cart, set))
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(1, 20)),
		gen.SliceOf(gen.IntRange(0, 10)),
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}

// Property: splitting a product's quantity across variants never changes the verdict.
func TestValidateVariantSplitInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("aggregate, not line quantity, is checked", prop.ForAll(
		func(total, split, min, max int) bool {
			if split > total {
				split = total
			}
			set := limits.NewPolicySet(limits.Bounds("A", min, max))
			single := limits.Validate([]limits.CartLine{{ProductID: "A", Quantity: total}}, set)
			parts := limits.Validate([]limits.CartLine{
				{ProductID: "A", VariantID: "1", Quantity: split},
				{ProductID: "A", VariantID: "2", Quantity: total - split},
			}, set)
			return reflect.DeepEqual(single, parts)
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 30),
		gen.IntRange(0, 10),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// Property: Valid is exactly "no violations".
func TestValidateValidIffNoViolations(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("valid iff empty", prop.ForAll(
		func(ids, qtys, mins, maxs []int) bool {
			v := limits.Validate(buildCart(ids, qtys), buildPolicies(mins, maxs))
			return v.Valid == (len(v.Violations) == 0)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(1, 20)),
		gen.SliceOf(gen.IntRange(0, 10)),
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}
