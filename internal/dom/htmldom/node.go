package htmldom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/v0xg/voicefill/internal/dom"
)

// Node is an element of a Document.
type Node struct {
	d *Document
	n *html.Node
}

var _ dom.Node = (*Node)(nil)

func (e *Node) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.n).Selection
}

// On registers a listener for eventType on this node.
func (e *Node) On(eventType string, fn Listener) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	m := e.d.listeners[e.n]
	if m == nil {
		m = make(map[string][]Listener)
		e.d.listeners[e.n] = m
	}
	m[eventType] = append(m[eventType], fn)
}

// Same reports whether other wraps the same element.
func (e *Node) Same(other dom.Node) bool {
	o, ok := other.(*Node)
	return ok && o.n == e.n
}

func (e *Node) Tag() string {
	return strings.ToLower(e.n.Data)
}

func (e *Node) Attr(name string) (string, bool) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return attr(e.n, name)
}

func (e *Node) Text() string {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return strings.TrimSpace(e.sel().Text())
}

func (e *Node) Parent() dom.Node {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return &Node{d: e.d, n: p}
}

func (e *Node) Closest(selector string) dom.Node {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.d.wrap(e.closest(selector))
}

// closest walks ancestors itself because a detached selection has no
// parents beyond the node it was built from.
func (e *Node) closest(selector string) []*html.Node {
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if goquery.NewDocumentFromNode(n).Selection.Is(selector) {
			return []*html.Node{n}
		}
	}
	return nil
}

func (e *Node) Query(selector string) dom.Node {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.d.wrap(e.sel().Find(selector).First().Nodes)
}

func (e *Node) QueryAll(selector string) []dom.Node {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.d.wrapAll(e.sel().Find(selector).Nodes)
}

func (e *Node) Matches(selector string) bool {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.sel().Is(selector)
}

// Visible follows the inline signals a snapshot can carry: the hidden
// attribute, display:none or visibility:hidden styles, and hidden inputs.
func (e *Node) Visible() bool {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if e.n.Data == "input" {
		if t, _ := attr(e.n, "type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if _, ok := attr(n, "hidden"); ok {
			return false
		}
		style, _ := attr(n, "style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (e *Node) Connected() bool {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	root := e.d.doc.Nodes[0]
	for n := e.n; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func (e *Node) Value() string {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.d.value(e.n)
}

func (e *Node) Checked() bool {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return e.d.checked(e.n)
}

func (e *Node) SetValue(v string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if e.n.Data == "select" {
		if _, ok := findOption(e.n, v); !ok {
			v = ""
		}
	}
	e.d.propsFor(e.n).value = &v
	return nil
}

func (e *Node) SetChecked(v bool) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	e.d.setChecked(e.n, v)
	return nil
}

func (e *Node) Dispatch(eventType string) error {
	e.d.fire(e.n, eventType)
	return nil
}

func (e *Node) Focus() error {
	e.d.mu.Lock()
	e.d.focused = e.n
	e.d.mu.Unlock()
	return nil
}

// Click runs the default activation behaviour of the element and fires
// click on it. Checkboxes and radios also fire input and change, labels
// forward the click to their control.
func (e *Node) Click() error {
	e.d.mu.Lock()
	e.d.propsFor(e.n).clicks++
	toggled := false
	if e.n.Data == "input" {
		switch inputType(e.n) {
		case "checkbox":
			e.d.setChecked(e.n, !e.d.checked(e.n))
			toggled = true
		case "radio":
			if !e.d.checked(e.n) {
				e.d.setChecked(e.n, true)
				toggled = true
			}
		}
	}
	var forward *html.Node
	if e.n.Data == "label" {
		forward = e.d.labelControl(e.n)
	}
	e.d.mu.Unlock()

	e.d.fire(e.n, "click")
	if toggled {
		e.d.fire(e.n, "input")
		e.d.fire(e.n, "change")
	}
	if forward != nil {
		return (&Node{d: e.d, n: forward}).Click()
	}
	return nil
}

func (d *Document) value(n *html.Node) string {
	if p := d.props[n]; p != nil && p.value != nil {
		return *p.value
	}
	switch n.Data {
	case "input":
		if v, ok := attr(n, "value"); ok {
			return v
		}
		switch inputType(n) {
		case "checkbox", "radio":
			return "on"
		}
		return ""
	case "textarea":
		return goquery.NewDocumentFromNode(n).Text()
	case "option":
		return optionValue(n)
	case "select":
		var first *html.Node
		for _, o := range goquery.NewDocumentFromNode(n).Find("option").Nodes {
			if first == nil {
				first = o
			}
			if _, ok := attr(o, "selected"); ok {
				return optionValue(o)
			}
		}
		if first != nil {
			return optionValue(first)
		}
	}
	return ""
}

func (d *Document) checked(n *html.Node) bool {
	if p := d.props[n]; p != nil && p.checked != nil {
		return *p.checked
	}
	if _, ok := attr(n, "checked"); ok {
		return true
	}
	v, _ := attr(n, "aria-checked")
	return v == "true"
}

// setChecked mirrors the checked property. Checking a radio unchecks the
// rest of its name group.
func (d *Document) setChecked(n *html.Node, v bool) {
	d.propsFor(n).checked = &v
	if !v || n.Data != "input" || inputType(n) != "radio" {
		return
	}
	name, ok := attr(n, "name")
	if !ok || name == "" {
		return
	}
	sel := `input[type="radio"]` + dom.AttrEquals("name", name)
	for _, other := range d.doc.Find(sel).Nodes {
		if other != n {
			f := false
			d.propsFor(other).checked = &f
		}
	}
}

func (d *Document) labelControl(label *html.Node) *html.Node {
	if id, ok := attr(label, "for"); ok && id != "" {
		if n := d.doc.Find(dom.AttrEquals("id", id)).First().Nodes; len(n) > 0 {
			return n[0]
		}
		return nil
	}
	if n := goquery.NewDocumentFromNode(label).Find("input, select, textarea").First().Nodes; len(n) > 0 {
		return n[0]
	}
	return nil
}

func findOption(sel *html.Node, v string) (*html.Node, bool) {
	for _, o := range goquery.NewDocumentFromNode(sel).Find("option").Nodes {
		if optionValue(o) == v {
			return o, true
		}
	}
	return nil, false
}

func optionValue(o *html.Node) string {
	if v, ok := attr(o, "value"); ok {
		return v
	}
	return strings.TrimSpace(goquery.NewDocumentFromNode(o).Text())
}

func inputType(n *html.Node) string {
	t, _ := attr(n, "type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text"
	}
	return t
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
