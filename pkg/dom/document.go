// Package dom owns the storefront page model: an HTML tree parsed with
// golang.org/x/net/html, guarded by a mutex, plus role matchers that locate
// elements across unknown theme markup.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrDetached is returned when an operation targets a node no longer in the tree.
var ErrDetached = errors.New("dom: node is detached")

// Mutation lists the element nodes one structural change inserted or detached.
type Mutation struct {
	Added   []*html.Node
	Removed []*html.Node
}

// Observer is notified after AppendChild or Remove changes the tree.
type Observer func(m Mutation)

// Document is a parsed page together with its URL.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	url       *url.URL
	observers []Observer
}

// Parse reads an HTML page served from pageURL.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	return &Document{root: root, url: u}, nil
}

// MustParse parses a page from a string; it panics on error and is meant for fixtures.
func MustParse(page, pageURL string) *Document {
	d, err := Parse(strings.NewReader(page), pageURL)
	if err != nil {
		panic(err)
	}
	return d
}

// URL returns a copy of the page URL.
func (d *Document) URL() *url.URL {
	u := *d.url
	return &u
}

// Observe registers fn for structural insertions and removals.
func (d *Document) Observe(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Read runs fn with shared access to the tree. fn must not mutate it.
func (d *Document) Read(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Update runs fn with exclusive access to the tree. Observers are not notified.
func (d *Document) Update(fn func(root *html.Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.root)
}

// AppendChild inserts child under parent and notifies observers after the
// lock is released.
func (d *Document) AppendChild(parent, child *html.Node) error {
	d.mu.Lock()
	if !attached(d.root, parent) {
		d.mu.Unlock()
		return ErrDetached
	}
	parent.AppendChild(child)
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	d.notify(observers, Mutation{Added: Elements(child)})
	return nil
}

// Remove detaches n from the tree and notifies observers after the lock is
// released.
func (d *Document) Remove(n *html.Node) error {
	d.mu.Lock()
	if n.Parent == nil || !attached(d.root, n) {
		d.mu.Unlock()
		return ErrDetached
	}
	n.Parent.RemoveChild(n)
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	d.notify(observers, Mutation{Removed: Elements(n)})
	return nil
}

func (d *Document) notify(observers []Observer, m Mutation) {
	for _, fn := range observers {
		fn(m)
	}
}

// Render serializes the tree.
func (d *Document) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

// Body returns the body element, or the root when the page has none.
func (d *Document) Body() *html.Node {
	var body *html.Node
	d.Read(func(root *html.Node) {
		body = firstAtom(root, atom.Body)
		if body == nil {
			body = root
		}
	})
	return body
}

// Attached reports whether n is still part of the tree.
func (d *Document) Attached(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return attached(d.root, n)
}

func attached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func firstAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := firstAtom(c, a); f != nil {
			return f
		}
	}
	return nil
}

// Elements returns n and its element descendants in document order.
func Elements(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.ElementNode {
			out = append(out, x)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes key from n.
func RemoveAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// Classes returns the class list of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// AddClass adds class c once.
func AddClass(n *html.Node, c string) {
	cls := Classes(n)
	for _, x := range cls {
		if x == c {
			return
		}
	}
	SetAttr(n, "class", strings.Join(append(cls, c), " "))
}

// RemoveClass removes class c; the attribute is dropped when it becomes empty.
func RemoveClass(n *html.Node, c string) {
	var kept []string
	for _, x := range Classes(n) {
		if x != c {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		RemoveAttr(n, "class")
		return
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// SetText replaces the children of n with a single text node.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// Element builds a detached element.
func Element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}
