package dom

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/net/html"
)

// Role names an element purpose the pipeline needs to locate.
type Role string

const (
	RoleCheckout         Role = "checkout"
	RoleCartAddForm      Role = "cart_add_form"
	RoleQuantityControl  Role = "quantity_control"
	RoleStructuredData   Role = "structured_data"
	RoleProductJSON      Role = "product_json"
	RoleProductIDInput   Role = "product_id_input"
	RoleProductIDElement Role = "product_id_element"
	RoleHandleBound      Role = "handle_bound"
	RoleBannerAnchor     Role = "banner_anchor"
)

// Matchers holds ordered CEL predicates per role. An element has a role when
// any of the role's predicates evaluates to true.
type Matchers struct {
	env    *cel.Env
	mu     sync.RWMutex
	roles  map[Role][]cel.Program
	logger *slog.Logger
}

// NewMatchers compiles the predicate lists.
func NewMatchers(rules map[Role][]string) (*Matchers, error) {
	env, err := cel.NewEnv(
		cel.Variable("tag", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("classes", cel.ListType(cel.StringType)),
		cel.Variable("id", cel.StringType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	m := &Matchers{
		env:    env,
		roles:  make(map[Role][]cel.Program, len(rules)),
		logger: slog.Default().With("component", "dom.matchers"),
	}
	for role, exprs := range rules {
		for i, expr := range exprs {
			prg, err := m.compile(expr)
			if err != nil {
				return nil, fmt.Errorf("role %s predicate %d: %w", role, i, err)
			}
			m.roles[role] = append(m.roles[role], prg)
		}
	}
	return m, nil
}

func (m *Matchers) compile(expr string) (cel.Program, error) {
	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if ot := ast.OutputType(); !ot.IsExactType(cel.BoolType) && !ot.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile: predicate must be bool, got %s", ot)
	}
	prg, err := m.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// Match reports whether n has the role.
func (m *Matchers) Match(role Role, n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	m.mu.RLock()
	prgs := m.roles[role]
	m.mu.RUnlock()
	if len(prgs) == 0 {
		return false
	}

	input := activation(n)
	for _, prg := range prgs {
		out, _, err := prg.Eval(input)
		if err != nil {
			m.logger.Debug("predicate evaluation failed", "role", role, "error", err)
			continue
		}
		if ok, _ := out.Value().(bool); ok {
			return true
		}
	}
	return false
}

// FindAll returns every element under root with the role, in document order.
func (m *Matchers) FindAll(root *html.Node, role Role) []*html.Node {
	var out []*html.Node
	for _, n := range Elements(root) {
		if m.Match(role, n) {
			out = append(out, n)
		}
	}
	return out
}

// Find returns the first element under root with the role.
func (m *Matchers) Find(root *html.Node, role Role) *html.Node {
	for _, n := range Elements(root) {
		if m.Match(role, n) {
			return n
		}
	}
	return nil
}

// HasRole reports whether the role has any predicate configured.
func (m *Matchers) HasRole(role Role) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roles[role]) > 0
}

// Replace swaps in a freshly compiled rule set, e.g. after a profile reload.
func (m *Matchers) Replace(other *Matchers) {
	other.mu.RLock()
	roles := other.roles
	other.mu.RUnlock()

	m.mu.Lock()
	m.roles = roles
	m.mu.Unlock()
}

func activation(n *html.Node) map[string]any {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	classes := Classes(n)
	if classes == nil {
		classes = []string{}
	}
	text := ""
	if n.Data != "script" && n.Data != "style" {
		text = strings.TrimSpace(Text(n))
	}
	return map[string]any{
		"tag":     n.Data,
		"attrs":   attrs,
		"id":      attrs["id"],
		"classes": classes,
		"text":    text,
	}
}
