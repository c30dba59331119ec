// Package gate controls the interactive state of checkout affordances.
//
// Every affordance of the checkout role is in one of three states. Pending and
// Blocked both disable it; Open restores it exactly as it was found. Visible
// updates are throttled, except that disabling an enabled affordance always
// happens before Freeze returns.
package gate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
)

// State is the gating state of all checkout affordances.
type State int

const (
	Open State = iota
	Pending
	Blocked
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	default:
		return "open"
	}
}

// Markup applied to gated affordances and the banner.
const (
	ClassPending   = "order-limit-pending"
	ClassBlocked   = "order-limit-blocked"
	StateAttr      = "data-order-limit-state"
	BannerID       = "order-limit-banner"
	bannerClass    = "order-limit-banner"
	messageClass   = "order-limit-banner__message"
	dismissClass   = "order-limit-banner__dismiss"
	defaultPending = "Verifying…"
	defaultRetry   = "We could not verify order limits for your cart. Please refresh the page and try again."
	defaultDismiss = "Dismiss"
)

// Defaults for Options.
const (
	DefaultThrottle      = 50 * time.Millisecond
	DefaultSafetyTimeout = 4 * time.Second
)

// ErrSafetyTimeout is passed to the fail-safe decision when Pending lasts too long.
var ErrSafetyTimeout = errors.New("gate: verification did not complete in time")

// Labels are the user-visible strings.
type Labels struct {
	Pending string
	Retry   string
	Dismiss string
}

// Options configure a Controller. Zero values take defaults.
type Options struct {
	Clock         clock.Clock
	Throttle      time.Duration
	SafetyTimeout time.Duration
	Labels        Labels

	// EverKnown reports whether any limit was ever established; it drives
	// the fail-safe decision. Nil means never.
	EverKnown func() bool
	// OnTransition observes visible state changes.
	OnTransition func(from, to State)
}

type target struct {
	state   State
	message string
}

// original is what an affordance looked like before it was first gated.
type original struct {
	byValue  bool
	value    *string
	children []*html.Node
	attrs    map[string]*string
}

var savedAttrs = []string{"disabled", "aria-disabled", "title"}

// Controller applies gate states to a document.
type Controller struct {
	doc      *dom.Document
	matchers *dom.Matchers
	clock    clock.Clock
	opts     Options
	logger   *slog.Logger

	mu         sync.Mutex
	visible    target
	desired    target
	rendered   bool
	lastRender time.Time
	dismissed  string
	saved      map[*html.Node]*original
	trailing   *clock.Timeout
	safety     *clock.Timeout
}

// New creates a controller in the Open state. Nothing is rendered until the
// first transition.
func New(doc *dom.Document, m *dom.Matchers, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = DefaultSafetyTimeout
	}
	if opts.Labels.Pending == "" {
		opts.Labels.Pending = defaultPending
	}
	if opts.Labels.Retry == "" {
		opts.Labels.Retry = defaultRetry
	}
	if opts.Labels.Dismiss == "" {
		opts.Labels.Dismiss = defaultDismiss
	}
	return &Controller{
		doc:      doc,
		matchers: m,
		clock:    opts.Clock,
		opts:     opts,
		logger:   slog.Default().With("component", "gate"),
		saved:    make(map[*html.Node]*original),
		trailing: clock.NewTimeout(opts.Clock),
		safety:   clock.NewTimeout(opts.Clock),
	}
}

// State returns the visible state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible.state
}

// Message returns the visible blocking message, if any.
func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible.message
}

// Freeze moves to Pending. When any affordance is currently enabled, including
// one inserted since the last render, it is disabled before Freeze returns.
func (c *Controller) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := target{state: Pending}
	c.safety.Reset(c.opts.SafetyTimeout, c.safetyExpired)
	if c.visible.state == Open || c.hasUngatedLocked() {
		c.trailing.Stop()
		c.desired = t
		c.renderLocked(t)
		return
	}
	c.requestLocked(t)
}

// Apply moves to Open for a valid verdict and Blocked otherwise.
func (c *Controller) Apply(v limits.Verdict) {
	if v.Valid {
		c.request(target{state: Open})
		return
	}
	c.Block(v.Message())
}

// Block moves to Blocked with msg. An empty msg uses the retry label.
func (c *Controller) Block(msg string) {
	if msg == "" {
		msg = c.opts.Labels.Retry
	}
	c.request(target{state: Blocked, message: msg})
}

// Fail makes the fail-safe decision after err: Blocked with the retry
// message when any limit was ever known, Open otherwise.
func (c *Controller) Fail(err error) {
	known := c.opts.EverKnown != nil && c.opts.EverKnown()
	c.logger.Warn("validation could not complete", "error", err, "ever_known", known)
	if known {
		c.Block(c.opts.Labels.Retry)
		return
	}
	c.request(target{state: Open})
}

// Dismiss hides the banner until a different message is shown.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissed = c.visible.message
	if err := c.doc.Update(func(root *html.Node) error {
		c.syncBanner(root, false, "")
		return nil
	}); err != nil {
		c.logger.Warn("dismiss banner failed", "error", err)
	}
}

func (c *Controller) hasUngatedLocked() bool {
	found := false
	c.doc.Read(func(root *html.Node) {
		for _, n := range c.matchers.FindAll(root, dom.RoleCheckout) {
			if _, ok := c.saved[n]; !ok {
				found = true
				return
			}
		}
	})
	return found
}

func (c *Controller) request(t target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestLocked(t)
}

// requestLocked renders now when the throttle window has passed, otherwise
// records t as the single trailing update.
func (c *Controller) requestLocked(t target) {
	if t.state != Pending {
		c.safety.Stop()
	}
	c.desired = t
	if c.trailing.Active() {
		return
	}
	wait := c.opts.Throttle - c.clock.Now().Sub(c.lastRender)
	if !c.rendered || wait <= 0 {
		c.renderLocked(t)
		return
	}
	c.trailing.Reset(wait, c.flush)
}

func (c *Controller) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderLocked(c.desired)
}

func (c *Controller) safetyExpired() {
	c.mu.Lock()
	stillPending := c.desired.state == Pending
	c.mu.Unlock()
	if stillPending {
		c.Fail(ErrSafetyTimeout)
	}
}

func (c *Controller) renderLocked(t target) {
	from := c.visible.state
	if err := c.doc.Update(func(root *html.Node) error {
		c.renderTree(root, t)
		return nil
	}); err != nil {
		c.logger.Warn("render failed", "state", t.state, "error", err)
	}
	c.visible = t
	c.rendered = true
	c.lastRender = c.clock.Now()
	if from != t.state {
		c.logger.Debug("gate transition", "from", from, "to", t.state)
		if c.opts.OnTransition != nil {
			c.opts.OnTransition(from, t.state)
		}
	}
}

func (c *Controller) renderTree(root *html.Node, t target) {
	for n := range c.saved {
		if !isAttached(root, n) {
			c.logger.Debug("skipping detached affordance", "tag", n.Data)
			delete(c.saved, n)
		}
	}

	switch t.state {
	case Open:
		for n, o := range c.saved {
			restore(n, o)
			delete(c.saved, n)
		}
		c.syncBanner(root, false, "")
	case Pending:
		for _, n := range c.matchers.FindAll(root, dom.RoleCheckout) {
			o := c.save(n)
			setLabel(n, o, c.opts.Labels.Pending)
			restoreAttr(n, "title", o.attrs["title"])
			c.disable(n, Pending, ClassPending, ClassBlocked)
		}
		c.syncBanner(root, false, "")
	case Blocked:
		for _, n := range c.matchers.FindAll(root, dom.RoleCheckout) {
			o := c.save(n)
			restoreLabel(n, o)
			dom.SetAttr(n, "title", t.message)
			c.disable(n, Blocked, ClassBlocked, ClassPending)
		}
		if t.message != c.dismissed {
			c.dismissed = ""
		}
		c.syncBanner(root, c.dismissed == "", t.message)
	}
}

func (c *Controller) save(n *html.Node) *original {
	if o, ok := c.saved[n]; ok {
		return o
	}
	o := &original{attrs: make(map[string]*string, len(savedAttrs))}
	for _, key := range savedAttrs {
		if v, ok := dom.Attr(n, key); ok {
			o.attrs[key] = &v
		}
	}
	if n.DataAtom == atom.Input {
		o.byValue = true
		if v, ok := dom.Attr(n, "value"); ok {
			o.value = &v
		}
	} else {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			o.children = append(o.children, ch)
		}
	}
	c.saved[n] = o
	return o
}

func (c *Controller) disable(n *html.Node, s State, add, drop string) {
	dom.SetAttr(n, "disabled", "")
	dom.SetAttr(n, "aria-disabled", "true")
	dom.SetAttr(n, StateAttr, s.String())
	dom.RemoveClass(n, drop)
	dom.AddClass(n, add)
}

func (c *Controller) syncBanner(root *html.Node, show bool, msg string) {
	var banner *html.Node
	for _, n := range dom.Elements(root) {
		if id, _ := dom.Attr(n, "id"); id == BannerID {
			banner = n
			break
		}
	}
	if !show {
		if banner != nil && banner.Parent != nil {
			banner.Parent.RemoveChild(banner)
		}
		return
	}
	if banner != nil {
		for _, n := range dom.Elements(banner) {
			if cls, _ := dom.Attr(n, "class"); cls == messageClass {
				dom.SetText(n, msg)
			}
		}
		return
	}

	banner = dom.Element("div",
		html.Attribute{Key: "id", Val: BannerID},
		html.Attribute{Key: "class", Val: bannerClass},
		html.Attribute{Key: "role", Val: "alert"},
	)
	p := dom.Element("p", html.Attribute{Key: "class", Val: messageClass})
	dom.SetText(p, msg)
	btn := dom.Element("button",
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: "class", Val: dismissClass},
	)
	dom.SetText(btn, c.opts.Labels.Dismiss)
	banner.AppendChild(p)
	banner.AppendChild(btn)

	anchor := c.matchers.Find(root, dom.RoleBannerAnchor)
	if anchor == nil {
		anchor = findBody(root)
	}
	anchor.InsertBefore(banner, anchor.FirstChild)
}

func setLabel(n *html.Node, o *original, label string) {
	if o.byValue {
		dom.SetAttr(n, "value", label)
		return
	}
	detachChildren(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: label})
}

func restoreLabel(n *html.Node, o *original) {
	if o.byValue {
		restoreAttr(n, "value", o.value)
		return
	}
	detachChildren(n)
	for _, ch := range o.children {
		if ch.Parent != nil {
			ch.Parent.RemoveChild(ch)
		}
		n.AppendChild(ch)
	}
}

func restore(n *html.Node, o *original) {
	restoreLabel(n, o)
	for _, key := range savedAttrs {
		restoreAttr(n, key, o.attrs[key])
	}
	dom.RemoveAttr(n, StateAttr)
	dom.RemoveClass(n, ClassPending)
	dom.RemoveClass(n, ClassBlocked)
}

func restoreAttr(n *html.Node, key string, v *string) {
	if v == nil {
		dom.RemoveAttr(n, key)
		return
	}
	dom.SetAttr(n, key, *v)
}

func detachChildren(n *html.Node) {
	for ch := n.FirstChild; ch != nil; {
		next := ch.NextSibling
		n.RemoveChild(ch)
		ch = next
	}
}

func isAttached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func findBody(root *html.Node) *html.Node {
	for _, n := range dom.Elements(root) {
		if n.DataAtom == atom.Body {
			return n
		}
	}
	return root
}
