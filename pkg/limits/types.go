// Package limits holds the order-limit data model and the validation engine
// that maps cart contents and known policies to a verdict.
package limits

import (
	"regexp"
	"strings"
	"time"
)

// ProductID identifies a sellable product within a shop. It is derived from
// page markup or cart data, never authored here.
type ProductID string

var gidPattern = regexp.MustCompile(`^gid://shopify/Product/(\d+)$`)

// NormalizeProductID trims whitespace and reduces platform GIDs to their
// numeric tail. Values containing whitespace are rejected.
func NormalizeProductID(raw string) (ProductID, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return "", false
	}
	if m := gidPattern.FindStringSubmatch(s); m != nil {
		return ProductID(m[1]), true
	}
	return ProductID(s), true
}

// CartLine is one line item of the current cart. AggregateQuantity is the sum
// of Quantity over all lines with the same ProductID.
type CartLine struct {
	ProductID         ProductID `json:"product_id"`
	VariantID         string    `json:"variant_id"`
	Quantity          int       `json:"quantity"`
	Title             string    `json:"title,omitempty"`
	AggregateQuantity int       `json:"aggregate_quantity"`
}

// Policy is the quantity bounds for one product. A nil bound is unconstrained.
type Policy struct {
	ProductID   ProductID `json:"product_id"`
	Min         *int      `json:"min,omitempty"`
	Max         *int      `json:"max,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Constrained reports whether the policy carries at least one bound.
func (p *Policy) Constrained() bool {
	return p != nil && ((p.Min != nil && *p.Min > 0) || p.Max != nil)
}

// RequiredMin returns the minimum if it is a positive requirement.
func (p *Policy) RequiredMin() (int, bool) {
	if p == nil || p.Min == nil || *p.Min <= 0 {
		return 0, false
	}
	return *p.Min, true
}

// Bounds builds a policy from optional bounds; min <= 0 and max <= 0 are
// dropped.
func Bounds(id ProductID, min, max int) *Policy {
	p := &Policy{ProductID: id}
	if min > 0 {
		v := min
		p.Min = &v
	}
	if max > 0 {
		v := max
		p.Max = &v
	}
	return p
}

// PolicySet is an insertion-ordered collection of policies keyed by product.
type PolicySet struct {
	order []ProductID
	byID  map[ProductID]*Policy
}

// NewPolicySet builds a set from policies in the given order. Later entries
// for the same product replace earlier ones but keep the original position.
func NewPolicySet(policies ...*Policy) *PolicySet {
	s := &PolicySet{byID: make(map[ProductID]*Policy, len(policies))}
	for _, p := range policies {
		s.Put(p)
	}
	return s
}

// Put inserts or replaces a policy. Nil policies are ignored.
func (s *PolicySet) Put(p *Policy) {
	if p == nil {
		return
	}
	if s.byID == nil {
		s.byID = make(map[ProductID]*Policy)
	}
	if _, ok := s.byID[p.ProductID]; !ok {
		s.order = append(s.order, p.ProductID)
	}
	s.byID[p.ProductID] = p
}

// Get returns the policy for id.
func (s *PolicySet) Get(id ProductID) (*Policy, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.byID[id]
	return p, ok
}

// Len returns the number of policies.
func (s *PolicySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// All returns the policies in insertion order.
func (s *PolicySet) All() []*Policy {
	if s == nil {
		return nil
	}
	out := make([]*Policy, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// ViolationKind is the bound a violation breaks.
type ViolationKind string

const (
	KindMin ViolationKind = "min"
	KindMax ViolationKind = "max"
)

// Violation is one broken bound.
type Violation struct {
	ProductID ProductID     `json:"product_id"`
	Kind      ViolationKind `json:"kind"`
	Current   int           `json:"current_quantity"`
	Bound     int           `json:"bound_value"`
	Message   string        `json:"message"`
}

// Verdict is the result of validating a cart against known policies.
type Verdict struct {
	Valid      bool        `json:"is_valid"`
	Violations []Violation `json:"violations"`
}

// Message joins the violation messages, one per line.
func (v Verdict) Message() string {
	msgs := make([]string, 0, len(v.Violations))
	for _, vi := range v.Violations {
		msgs = append(msgs, vi.Message)
	}
	return strings.Join(msgs, "\n")
}

// Snapshot is the last verdict carried across page navigations.
type Snapshot struct {
	Valid      bool      `json:"isValid"`
	Message    string    `json:"message"`
	CapturedAt time.Time `json:"capturedAt"`
}
