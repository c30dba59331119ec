// Package productid resolves the product a storefront page is about.
//
// Strategies run in a fixed priority order and the first success wins:
//
//  1. schema.org Product structured data (JSON-LD)
//  2. an inline product JSON payload
//  3. a hidden product-id input inside a cart-add form
//  4. any element carrying a product-id data attribute
//  5. the URL handle after the product route prefix, only when an on-page
//     element bound to that handle carries a numeric id
//
// The resolver never guesses: when every strategy fails it reports no product.
package productid

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

// Strategy identifies which resolution strategy produced an id.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyStructuredData
	StrategyProductJSON
	StrategyFormInput
	StrategyDataAttribute
	StrategyURLHandle
)

func (s Strategy) String() string {
	switch s {
	case StrategyStructuredData:
		return "structured_data"
	case StrategyProductJSON:
		return "product_json"
	case StrategyFormInput:
		return "form_input"
	case StrategyDataAttribute:
		return "data_attribute"
	case StrategyURLHandle:
		return "url_handle"
	default:
		return "none"
	}
}

var numeric = regexp.MustCompile(`^\d+$`)

// Resolver extracts the current product id from a document.
type Resolver struct {
	matchers    *dom.Matchers
	routePrefix string
}

// NewResolver builds a resolver. routePrefix is the product route, e.g. "/products/".
func NewResolver(m *dom.Matchers, routePrefix string) *Resolver {
	if routePrefix == "" {
		routePrefix = "/products/"
	}
	return &Resolver{matchers: m, routePrefix: routePrefix}
}

// Resolve returns the current product id, if one can be determined.
func (r *Resolver) Resolve(doc *dom.Document) (limits.ProductID, bool) {
	id, s := r.ResolveWithStrategy(doc)
	return id, s != StrategyNone
}

// ResolveWithStrategy is Resolve that also reports the winning strategy.
func (r *Resolver) ResolveWithStrategy(doc *dom.Document) (id limits.ProductID, s Strategy) {
	u := doc.URL()
	doc.Read(func(root *html.Node) {
		for _, try := range []struct {
			s  Strategy
			fn func(*html.Node) (limits.ProductID, bool)
		}{
			{StrategyStructuredData, r.fromStructuredData},
			{StrategyProductJSON, r.fromProductJSON},
			{StrategyFormInput, r.fromFormInput},
			{StrategyDataAttribute, r.fromDataAttribute},
			{StrategyURLHandle, func(root *html.Node) (limits.ProductID, bool) { return r.fromURLHandle(root, u.Path) }},
		} {
			if got, ok := try.fn(root); ok {
				id, s = got, try.s
				return
			}
		}
	})
	return id, s
}

func (r *Resolver) fromStructuredData(root *html.Node) (limits.ProductID, bool) {
	for _, n := range r.matchers.FindAll(root, dom.RoleStructuredData) {
		var doc any
		if err := decodeJSON(dom.Text(n), &doc); err != nil {
			continue
		}
		if id, ok := findProductNode(doc); ok {
			return id, true
		}
	}
	return "", false
}

// findProductNode walks JSON-LD (single objects, arrays, @graph) for a
// Product node with a productID.
func findProductNode(v any) (limits.ProductID, bool) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if id, ok := findProductNode(item); ok {
				return id, true
			}
		}
	case map[string]any:
		if isProductType(t["@type"]) {
			if id, ok := scalarID(t["productID"]); ok {
				return id, true
			}
		}
		if g, ok := t["@graph"]; ok {
			return findProductNode(g)
		}
	}
	return "", false
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Product" || strings.HasSuffix(t, "/Product")
	case []any:
		for _, x := range t {
			if isProductType(x) {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) fromProductJSON(root *html.Node) (limits.ProductID, bool) {
	for _, n := range r.matchers.FindAll(root, dom.RoleProductJSON) {
		var payload map[string]any
		if err := decodeJSON(dom.Text(n), &payload); err != nil {
			continue
		}
		if id, ok := scalarID(payload["id"]); ok {
			return id, true
		}
		if p, ok := payload["product"].(map[string]any); ok {
			if id, ok := scalarID(p["id"]); ok {
				return id, true
			}
		}
	}
	return "", false
}

func (r *Resolver) fromFormInput(root *html.Node) (limits.ProductID, bool) {
	for _, form := range r.matchers.FindAll(root, dom.RoleCartAddForm) {
		for _, in := range r.matchers.FindAll(form, dom.RoleProductIDInput) {
			if v, ok := dom.Attr(in, "data-product-id"); ok {
				if id, ok := limits.NormalizeProductID(v); ok {
					return id, true
				}
			}
			if v, ok := dom.Attr(in, "value"); ok {
				if id, ok := limits.NormalizeProductID(v); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

func (r *Resolver) fromDataAttribute(root *html.Node) (limits.ProductID, bool) {
	for _, n := range r.matchers.FindAll(root, dom.RoleProductIDElement) {
		if v, ok := dom.Attr(n, "data-product-id"); ok {
			if id, ok := limits.NormalizeProductID(v); ok {
				return id, true
			}
		}
	}
	return "", false
}

func (r *Resolver) fromURLHandle(root *html.Node, path string) (limits.ProductID, bool) {
	handle := r.handleFromPath(path)
	if handle == "" {
		return "", false
	}
	for _, n := range r.matchers.FindAll(root, dom.RoleHandleBound) {
		bound := ""
		if v, ok := dom.Attr(n, "data-product-handle"); ok {
			bound = v
		} else if v, ok := dom.Attr(n, "data-handle"); ok {
			bound = v
		}
		if r.normalizeHandle(bound) != handle {
			continue
		}
		for _, key := range []string{"data-id", "data-product", "content"} {
			if v, ok := dom.Attr(n, key); ok && numeric.MatchString(strings.TrimSpace(v)) {
				return limits.ProductID(strings.TrimSpace(v)), true
			}
		}
	}
	return "", false
}

func (r *Resolver) handleFromPath(path string) string {
	i := strings.Index(path, r.routePrefix)
	if i < 0 {
		return ""
	}
	rest := path[i+len(r.routePrefix):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return r.normalizeHandle(rest)
}

// Casers are stateful, so each call gets its own.
func (r *Resolver) normalizeHandle(h string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(h)))
}

// decodeJSON keeps numbers as json.Number so large ids survive intact.
func decodeJSON(text string, out any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	return dec.Decode(out)
}

func scalarID(v any) (limits.ProductID, bool) {
	switch t := v.(type) {
	case string:
		return limits.NormalizeProductID(t)
	case json.Number:
		if !numeric.MatchString(t.String()) {
			return "", false
		}
		return limits.NormalizeProductID(t.String())
	}
	return "", false
}
