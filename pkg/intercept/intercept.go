// Package intercept observes every pathway through which the cart can change
// and turns each into the same intent: freeze the gate now, validate once the
// burst has settled.
package intercept

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
)

const (
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultQuantityDelay = 300 * time.Millisecond
)

// DefaultMutationPaths are the storefront cart mutation routes.
var DefaultMutationPaths = []string{"/cart/add", "/cart/change", "/cart/update", "/cart/clear"}

// Freezer is the part of the gate the interceptor drives.
type Freezer interface {
	Freeze()
}

// Options configure an Interceptor. Zero values take defaults.
type Options struct {
	Clock         clock.Clock
	SettleDelay   time.Duration
	QuantityDelay time.Duration
	MutationPaths []string
	// OnIntent observes each intent by channel ("network", "form", "quantity", "dom").
	OnIntent func(channel string)
}

// Interceptor funnels mutation intents into one settle timeout.
type Interceptor struct {
	gate     Freezer
	doc      *dom.Document
	matchers *dom.Matchers
	settle   *clock.Timeout
	onSettle func()
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	attached bool
}

// New creates an interceptor. onSettle runs once per settled burst.
func New(g Freezer, doc *dom.Document, m *dom.Matchers, onSettle func(), opts Options) *Interceptor {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.QuantityDelay <= 0 {
		opts.QuantityDelay = DefaultQuantityDelay
	}
	if len(opts.MutationPaths) == 0 {
		opts.MutationPaths = DefaultMutationPaths
	}
	return &Interceptor{
		gate:     g,
		doc:      doc,
		matchers: m,
		settle:   clock.NewTimeout(opts.Clock),
		onSettle: onSettle,
		opts:     opts,
		logger:   slog.Default().With("component", "intercept"),
	}
}

// Attach starts watching the document for inserted or removed checkout
// affordances.
// Calling it again has no effect.
func (i *Interceptor) Attach() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.attached {
		return
	}
	i.attached = true
	i.doc.Observe(i.nodesChanged)
}

// Detach stops reacting to intents and cancels any pending settle.
func (i *Interceptor) Detach() {
	i.mu.Lock()
	i.attached = false
	i.mu.Unlock()
	i.settle.Stop()
}

func (i *Interceptor) active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attached
}

// Transport wraps base so cart mutation requests freeze the gate before they
// are sent and schedule validation after their response.
func (i *Interceptor) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if !i.active() || !i.IsMutation(req) {
			return base.RoundTrip(req)
		}
		i.intent("network", 0, false)
		resp, err := base.RoundTrip(req)
		i.settle.Reset(i.opts.SettleDelay, i.onSettle)
		return resp, err
	})
}

// IsMutation reports whether req targets a cart mutation route. Locale
// prefixes and the ".js" suffix are accepted. Any method but HEAD counts:
// themes remove lines with GET /cart/change links and add through GET
// /cart/add permalinks.
func (i *Interceptor) IsMutation(req *http.Request) bool {
	if req.Method == http.MethodHead {
		return false
	}
	p := strings.TrimSuffix(strings.TrimRight(req.URL.Path, "/"), ".js")
	for _, m := range i.opts.MutationPaths {
		if p == m || strings.HasSuffix(p, m) {
			return true
		}
	}
	return false
}

// SubmitForm handles a form submission. It reports whether the form is a
// cart-add form; the submission itself always proceeds.
func (i *Interceptor) SubmitForm(form *html.Node) bool {
	if !i.active() || !i.matchers.Match(dom.RoleCartAddForm, form) {
		return false
	}
	i.intent("form", i.opts.SettleDelay, true)
	return true
}

// QuantityChanged handles input or clicks on a quantity control.
func (i *Interceptor) QuantityChanged(control *html.Node) bool {
	if !i.active() || !i.matchers.Match(dom.RoleQuantityControl, control) {
		return false
	}
	i.intent("quantity", i.opts.QuantityDelay, true)
	return true
}

// nodesChanged treats a checkout affordance entering or leaving the tree as a
// cart re-render.
func (i *Interceptor) nodesChanged(m dom.Mutation) {
	if !i.active() {
		return
	}
	for _, set := range [][]*html.Node{m.Added, m.Removed} {
		for _, n := range set {
			if i.matchers.Match(dom.RoleCheckout, n) {
				i.intent("dom", i.opts.SettleDelay, true)
				return
			}
		}
	}
}

// intent freezes the gate and, when arm is set, re-arms the settle timeout.
func (i *Interceptor) intent(channel string, delay time.Duration, arm bool) {
	i.gate.Freeze()
	if i.opts.OnIntent != nil {
		i.opts.OnIntent(channel)
	}
	if arm {
		i.logger.Debug("mutation intent", "channel", channel, "settle", delay)
		i.settle.Reset(delay, i.onSettle)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
