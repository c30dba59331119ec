package limits

import "fmt"

// Aggregate sums quantities per product and returns the distinct products in
// first-seen cart order.
func Aggregate(lines []CartLine) (map[ProductID]int, []ProductID) {
	totals := make(map[ProductID]int, len(lines))
	var order []ProductID
	for _, l := range lines {
		if l.ProductID == "" {
			continue
		}
		if _, seen := totals[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		totals[l.ProductID] += l.Quantity
	}
	return totals, order
}

// WithAggregates returns a copy of lines with AggregateQuantity filled in.
func WithAggregates(lines []CartLine) []CartLine {
	totals, _ := Aggregate(lines)
	out := make([]CartLine, len(lines))
	for i, l := range lines {
		l.AggregateQuantity = totals[l.ProductID]
		out[i] = l
	}
	return out
}

// Validate checks cart lines against the policy set. It is pure and total:
// products present in the cart are checked first in cart order, then every
// policy with a positive minimum whose product is absent, in set order.
// When min > max both violations are reported.
func Validate(lines []CartLine, policies *PolicySet) Verdict {
	totals, order := Aggregate(lines)
	titles := make(map[ProductID]string, len(order))
	for _, l := range lines {
		if _, ok := titles[l.ProductID]; !ok && l.Title != "" {
			titles[l.ProductID] = l.Title
		}
	}
	violations := []Violation{}

	for _, id := range order {
		p, ok := policies.Get(id)
		if !ok || p == nil {
			continue
		}
		qty := totals[id]
		if min, ok := p.RequiredMin(); ok && qty < min {
			violations = append(violations, minViolation(p, titles[id], qty, min))
		}
		if p.Max != nil && qty > *p.Max {
			violations = append(violations, Violation{
				ProductID: id,
				Kind:      KindMax,
				Current:   qty,
				Bound:     *p.Max,
				Message:   fmt.Sprintf("Maximum order quantity for %s is %d. You have %d in your cart.", p.name(titles[id]), *p.Max, qty),
			})
		}
	}

	for _, p := range policies.All() {
		if _, inCart := totals[p.ProductID]; inCart {
			continue
		}
		if min, ok := p.RequiredMin(); ok {
			violations = append(violations, minViolation(p, "", 0, min))
		}
	}

	return Verdict{Valid: len(violations) == 0, Violations: violations}
}

func minViolation(p *Policy, title string, qty, min int) Violation {
	return Violation{
		ProductID: p.ProductID,
		Kind:      KindMin,
		Current:   qty,
		Bound:     min,
		Message:   fmt.Sprintf("Minimum order quantity for %s is %d. You have %d in your cart.", p.name(title), min, qty),
	}
}

// name prefers the policy's display name, then the cart line title.
func (p *Policy) name(title string) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if title != "" {
		return title
	}
	return "this product"
}
