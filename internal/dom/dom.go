// Package dom defines the small DOM surface the scanner and manipulator
// work against. A live Chrome tab and an in-memory HTML snapshot both
// implement it.
package dom

import (
	"strings"
	"time"
)

// Node is one element of a document.
//
// Read accessors never fail: a node that can no longer be inspected reads
// as empty. Write accessors report errors so callers can turn them into a
// per-field failure.
type Node interface {
	// Tag returns the lower-case tag name.
	Tag() string
	Attr(name string) (string, bool)
	// Text returns the trimmed text content of the node and its subtree.
	Text() string

	// Parent returns the parent element, or nil at the root.
	Parent() Node
	// Closest returns the nearest inclusive ancestor matching selector.
	Closest(selector string) Node
	// Query returns the first descendant matching selector, or nil.
	Query(selector string) Node
	QueryAll(selector string) []Node
	Matches(selector string) bool

	Visible() bool
	// Connected reports whether the node is still attached to its document.
	Connected() bool

	// Value returns the current value property (not the attribute).
	Value() string
	// Checked returns the checked property, falling back to aria-checked.
	Checked() bool

	// SetValue writes the value through the element's own prototype setter,
	// bypassing any instance-level override a framework installed.
	SetValue(v string) error
	SetChecked(v bool) error
	// Dispatch fires a synthetic bubbling event of the given type.
	Dispatch(eventType string) error
	Click() error
	Focus() error
}

// Document is the root a scan starts from.
type Document interface {
	Query(selector string) Node
	QueryAll(selector string) []Node
}

// Highlighter is implemented by nodes that can show a transient outline.
type Highlighter interface {
	Highlight(d time.Duration) error
}

// AttrEquals builds an exact attribute selector, e.g. [data-testid="x"].
func AttrEquals(attr, value string) string {
	return "[" + attr + `="` + Escape(value) + `"]`
}

// AttrContains builds a substring attribute selector, e.g. [data-testid*="x"].
func AttrContains(attr, value string) string {
	return "[" + attr + `*="` + Escape(value) + `"]`
}

// Escape quotes a value for use inside a double-quoted selector string.
func Escape(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(value)
}

// Attr returns the attribute value or the empty string.
func Attr(n Node, name string) string {
	v, _ := n.Attr(name)
	return v
}

// InputType returns the lower-case type attribute of an input, "text" when
// it is absent.
func InputType(n Node) string {
	t := strings.ToLower(strings.TrimSpace(Attr(n, "type")))
	if t == "" {
		return "text"
	}
	return t
}

// IsPrimitive reports whether n is a native form control.
func IsPrimitive(n Node) bool {
	switch n.Tag() {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// First returns the first node of nodes, or nil.
func First(nodes []Node) Node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}
