// Package htmldom implements the dom interfaces over a parsed HTML snapshot.
//
// Besides the static tree it keeps the property state a browser would
// (value, checked), fires synthetic events to registered listeners with
// bubbling, and applies the default click actions of checkboxes, radios and
// labels. It backs offline scans and every engine test.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/v0xg/voicefill/internal/dom"
)

// Event is one synthetic event observed by the document.
type Event struct {
	Type   string
	Target *Node
}

// Listener receives events dispatched on a node or its descendants.
type Listener func(Event)

type props struct {
	value   *string
	checked *bool
	clicks  int
}

// Document is an in-memory DOM. It is safe for concurrent use.
type Document struct {
	mu        sync.RWMutex
	doc       *goquery.Document
	props     map[*html.Node]*props
	listeners map[*html.Node]map[string][]Listener
	observers map[int]func()
	nextObs   int
	events    []Event
	focused   *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		doc:       doc,
		props:     make(map[*html.Node]*props),
		listeners: make(map[*html.Node]map[string][]Listener),
		observers: make(map[int]func()),
	}, nil
}

// MustParse parses markup and panics on error. Intended for tests.
func MustParse(markup string) *Document {
	d, err := Parse(strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	return d
}

// Query returns the first element matching selector, or nil.
func (d *Document) Query(selector string) dom.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.doc.Find(selector).First().Nodes)
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) []dom.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrapAll(d.doc.Find(selector).Nodes)
}

// Events returns a copy of the event log.
func (d *Document) Events() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Focused returns the node that last received focus, or nil.
func (d *Document) Focused() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.focused == nil {
		return nil
	}
	return &Node{d: d, n: d.focused}
}

// On registers a listener on the first node matching selector.
func (d *Document) On(selector, eventType string, fn Listener) error {
	n, ok := d.Query(selector).(*Node)
	if !ok {
		return fmt.Errorf("no node matches %q", selector)
	}
	n.On(eventType, fn)
	return nil
}

// Clicks returns how many times Click was called on the first node
// matching selector, including clicks forwarded from a label.
func (d *Document) Clicks(selector string) int {
	n, ok := d.Query(selector).(*Node)
	if !ok {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p := d.props[n.n]; p != nil {
		return p.clicks
	}
	return 0
}

// Append parses markup and appends it to the first node matching selector.
func (d *Document) Append(selector, markup string) error {
	d.mu.Lock()
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		d.mu.Unlock()
		return fmt.Errorf("no node matches %q", selector)
	}
	sel.AppendHtml(markup)
	obs := d.observerList()
	d.mu.Unlock()
	notify(obs)
	return nil
}

// Remove detaches every node matching selector and returns how many were
// removed.
func (d *Document) Remove(selector string) int {
	d.mu.Lock()
	sel := d.doc.Find(selector)
	n := sel.Length()
	sel.Remove()
	obs := d.observerList()
	d.mu.Unlock()
	if n > 0 {
		notify(obs)
	}
	return n
}

// SetAttr sets an attribute on every node matching selector.
func (d *Document) SetAttr(selector, name, value string) {
	d.mu.Lock()
	d.doc.Find(selector).SetAttr(name, value)
	obs := d.observerList()
	d.mu.Unlock()
	notify(obs)
}

// Observe calls notify after every structural change made through Append,
// Remove or SetAttr until ctx is done.
func (d *Document) Observe(ctx context.Context, notify func()) error {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = notify
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	delete(d.observers, id)
	d.mu.Unlock()
	return nil
}

func (d *Document) observerList() []func() {
	out := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		out = append(out, fn)
	}
	return out
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (d *Document) wrap(nodes []*html.Node) dom.Node {
	if len(nodes) == 0 {
		return nil
	}
	return &Node{d: d, n: nodes[0]}
}

func (d *Document) wrapAll(nodes []*html.Node) []dom.Node {
	out := make([]dom.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Node{d: d, n: n})
	}
	return out
}

func (d *Document) propsFor(n *html.Node) *props {
	p := d.props[n]
	if p == nil {
		p = &props{}
		d.props[n] = p
	}
	return p
}

// fire logs the event and runs listeners on target and its ancestors.
// Listeners run without the lock held so they may mutate the document.
func (d *Document) fire(target *html.Node, eventType string) {
	d.mu.Lock()
	ev := Event{Type: eventType, Target: &Node{d: d, n: target}}
	d.events = append(d.events, ev)
	var run []Listener
	for n := target; n != nil; n = n.Parent {
		run = append(run, d.listeners[n][eventType]...)
	}
	d.mu.Unlock()

	for _, fn := range run {
		fn(ev)
	}
}
