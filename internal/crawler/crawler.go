// Package crawler discovers the logical fields of a host form.
//
// A Scanner walks every node carrying the identifying attribute, groups
// them into unique fields, and keeps two indices from field id to the
// container node and to the writable node. The indices are rebuilt
// wholesale on every scan.
package crawler

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/dom"
)

// DefaultAttr is the attribute the host application uses to identify
// widgets.
const DefaultAttr = "data-testid"

// DefaultGenericIDs are identifier values shared by many unrelated widgets.
// A node carrying one is addressed through its nearest uniquely identified
// ancestor.
var DefaultGenericIDs = []string{
	"badge-text-field-textarea",
	"badge-text-field-input",
	"badge-checkbox",
	"badge-select",
	"badge-radio",
}

// Options configures a Scanner.
type Options struct {
	Attr           string
	GenericIDs     []string
	Registry       map[string]Registration
	RegisteredOnly bool
	Logger         *zap.Logger
}

// Scanner builds the field inventory of a document.
type Scanner struct {
	doc     dom.Document
	attr    string
	generic map[string]bool
	opts    Options
	logger  *zap.Logger

	scanMu sync.Mutex

	mu       sync.RWMutex
	fields   []Field
	elements map[string]dom.Node
	inputs   map[string]dom.Node
}

// New creates a Scanner over doc.
func New(doc dom.Document, opts Options) *Scanner {
	if opts.Attr == "" {
		opts.Attr = DefaultAttr
	}
	if opts.GenericIDs == nil {
		opts.GenericIDs = DefaultGenericIDs
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	generic := make(map[string]bool, len(opts.GenericIDs))
	for _, id := range opts.GenericIDs {
		generic[id] = true
	}
	return &Scanner{
		doc:      doc,
		attr:     opts.Attr,
		generic:  generic,
		opts:     opts,
		logger:   opts.Logger,
		elements: map[string]dom.Node{},
		inputs:   map[string]dom.Node{},
	}
}

// Attr returns the identifying attribute name.
func (s *Scanner) Attr() string {
	return s.attr
}

// Document returns the document being scanned.
func (s *Scanner) Document() dom.Document {
	return s.doc
}

// Scan rebuilds the inventory from the current document and returns it in
// document order. Scans are serialized; readers of the indices see either
// the previous or the new snapshot, never a partial one.
func (s *Scanner) Scan() []Field {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var (
		fields   []Field
		seen     = map[string]bool{}
		elements = map[string]dom.Node{}
		inputs   = map[string]dom.Node{}
		dropped  int
	)

	for _, n := range s.doc.QueryAll("[" + s.attr + "]") {
		id := strings.TrimSpace(dom.Attr(n, s.attr))
		if id == "" {
			continue
		}

		container := n
		var input dom.Node
		if s.generic[id] {
			anc := s.identifiedAncestor(n)
			if anc == nil {
				continue
			}
			container, input = anc, n
			id = strings.TrimSpace(dom.Attr(anc, s.attr))
		} else {
			input = NearbyInput(container)
		}

		if seen[id] {
			continue
		}
		if input == nil {
			input = fallbackTarget(container)
			if input == nil {
				dropped++
				continue
			}
		}
		seen[id] = true

		reg, registered := s.opts.Registry[id]
		if s.opts.RegisteredOnly && !registered {
			continue
		}

		f := s.describe(id, container, input)
		if registered {
			applyRegistration(&f, reg)
		}

		fields = append(fields, f)
		elements[id], inputs[id] = container, input
		if f.UniqueKey != id {
			elements[f.UniqueKey], inputs[f.UniqueKey] = container, input
		}
	}

	s.mu.Lock()
	s.fields, s.elements, s.inputs = fields, elements, inputs
	s.mu.Unlock()

	s.logger.Debug("scan complete",
		zap.Int("fields", len(fields)),
		zap.Int("dropped", dropped))
	return fields
}

// Fields returns the inventory of the last scan.
func (s *Scanner) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the descriptor of id from the last scan.
func (s *Scanner) Field(id string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.fields {
		if f.ID == id || f.UniqueKey == id {
			return f, true
		}
	}
	return Field{}, false
}

// Element returns the container node of id, or nil when the last scan did
// not find it or the node has since left the document.
func (s *Scanner) Element(id string) dom.Node {
	s.mu.RLock()
	n := s.elements[id]
	s.mu.RUnlock()
	return attached(n)
}

// Input returns the writable node of id, falling back to its container.
func (s *Scanner) Input(id string) dom.Node {
	s.mu.RLock()
	n := s.inputs[id]
	if n == nil {
		n = s.elements[id]
	}
	s.mu.RUnlock()
	return attached(n)
}

func attached(n dom.Node) dom.Node {
	if n == nil || !n.Connected() {
		return nil
	}
	return n
}

// identifiedAncestor finds the nearest ancestor carrying a non-generic id.
func (s *Scanner) identifiedAncestor(n dom.Node) dom.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		v, ok := p.Attr(s.attr)
		v = strings.TrimSpace(v)
		if ok && v != "" && !s.generic[v] {
			return p
		}
	}
	return nil
}

func (s *Scanner) describe(id string, container, input dom.Node) Field {
	typ := Classify(input)
	f := Field{
		ID:        id,
		UniqueKey: id,
		Label:     ResolveLabel(s.doc, s.attr, container, input),
		Type:      typ,
		Eye:       DetectEye(id, container.Text()),
		Section:   DetectSection(id),
		Tag:       input.Tag(),
	}
	switch typ {
	case TypeSelect:
		if input.Tag() == "select" {
			f.Options = ExtractOptions(input)
		} else {
			f.Options = ExtractOptions(container)
		}
	case TypeRadio:
		f.Options = s.radioOptions(container, input)
	}
	return f
}

// radioOptions enumerates every member of the radio group input belongs
// to. Members are matched by their shared name; unnamed radios fall back
// to the radios inside the container.
func (s *Scanner) radioOptions(container, input dom.Node) []string {
	var members []dom.Node
	radio := input
	if !(radio.Tag() == "input" && dom.InputType(radio) == "radio") {
		radio = container.Query(`input[type="radio"]`)
	}
	if radio != nil {
		if name := dom.Attr(radio, "name"); name != "" {
			members = s.doc.QueryAll(`input[type="radio"]` + dom.AttrEquals("name", name))
		}
	}
	if len(members) == 0 {
		members = container.QueryAll(`input[type="radio"], [role="radio"]`)
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, s.radioLabel(m))
	}
	return out
}

func (s *Scanner) radioLabel(r dom.Node) string {
	if id := dom.Attr(r, "id"); id != "" {
		if l := cleanLabel(textOf(s.doc.Query("label" + dom.AttrEquals("for", id)))); l != "" {
			return l
		}
	}
	if l := cleanLabel(textOf(r.Closest("label"))); l != "" {
		return l
	}
	if l := cleanLabel(dom.Attr(r, "aria-label")); l != "" {
		return l
	}
	if l := cleanLabel(textOf(r.Parent())); l != "" {
		return l
	}
	return r.Value()
}

func applyRegistration(f *Field, reg Registration) {
	if reg.Label != "" {
		f.Label = reg.Label
	}
	if reg.Section != "" {
		f.Section = reg.Section
	}
	if reg.Type != "" {
		f.Type = reg.Type
	}
	if len(reg.Keywords) > 0 {
		f.Keywords = append([]string(nil), reg.Keywords...)
	}
	if reg.UniqueKey != "" {
		f.UniqueKey = reg.UniqueKey
	}
}

// NearbyInput finds the writable control for a container: inside it, then
// among its parent's descendants, then inside the nearest column cell.
func NearbyInput(container dom.Node) dom.Node {
	if n := container.Query(WritableSelector); n != nil {
		return n
	}
	if p := container.Parent(); p != nil {
		if n := p.Query(WritableSelector); n != nil {
			return n
		}
	}
	if col := container.Closest(columnSelector); col != nil {
		if n := col.Query(WritableSelector); n != nil {
			return n
		}
	}
	return nil
}

// fallbackTarget keeps containers with no writable control that are
// themselves controls or action widgets.
func fallbackTarget(container dom.Node) dom.Node {
	if dom.IsPrimitive(container) || IsClickable(container) {
		return container
	}
	if _, ok := classifyRole(container); ok {
		return container
	}
	return container.Query(ClickableSelector)
}
