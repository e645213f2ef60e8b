// Package executor writes values into the fields a crawler.Scanner found.
//
// Every write goes through the host element's own value setter followed by
// synthetic events, so reactive frameworks observe the change. Searchable
// comboboxes are driven by a small retry state machine on a Scheduler.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom"
)

// DefaultRetryDelays is the option polling schedule of searchable selects.
var DefaultRetryDelays = []time.Duration{
	200 * time.Millisecond,
	400 * time.Millisecond,
	600 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
}

// DefaultHighlight is how long a written field stays outlined.
const DefaultHighlight = 2 * time.Second

// Options configures a Manipulator.
type Options struct {
	RetryDelays []time.Duration
	// ClickFallbacks maps a click target id to an alternate id tried when
	// the first is absent.
	ClickFallbacks map[string]string
	HighlightFor   time.Duration
	Scheduler      Scheduler
	Logger         *zap.Logger

	// OnFilled runs after every successful write with the node that
	// received it.
	OnFilled func(id string, target dom.Node)
	// OnSearchSettled runs when a searchable select chain ends.
	OnSearchSettled func(id string, outcome SearchOutcome)
}

// Manipulator fills fields by id.
type Manipulator struct {
	scanner *crawler.Scanner
	doc     dom.Document
	attr    string
	opts    Options
	sched   Scheduler
	logger  *zap.Logger

	// mu serializes every DOM interaction, including retry attempts.
	mu   sync.Mutex
	gens map[string]uint64

	filledMu sync.Mutex
	filled   map[string]string

	chains sync.WaitGroup
}

// New creates a Manipulator that resolves targets through scanner.
func New(scanner *crawler.Scanner, opts Options) *Manipulator {
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = DefaultRetryDelays
	}
	if opts.HighlightFor == 0 {
		opts.HighlightFor = DefaultHighlight
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timerScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manipulator{
		scanner: scanner,
		doc:     scanner.Document(),
		attr:    scanner.Attr(),
		opts:    opts,
		sched:   opts.Scheduler,
		logger:  opts.Logger,
		gens:    map[string]uint64{},
		filled:  map[string]string{},
	}
}

// FillField writes v into the field id. It returns true when a value was
// written or a click dispatched, false when the field cannot be resolved,
// is not fillable, or the write failed.
func (m *Manipulator) FillField(ctx context.Context, id string, v Value) (ok bool) {
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fill panicked", zap.String("field", id), zap.Any("panic", r))
			ok = false
		}
	}()

	// Any earlier retry chain on this field is superseded from here on.
	m.gens[id]++

	target, err := m.fill(id, v)
	if err != nil {
		m.logger.Warn("fill failed", zap.String("field", id), zap.Error(err))
		return false
	}
	if target == nil {
		return false
	}

	m.highlight(target)
	if m.opts.OnFilled != nil {
		m.opts.OnFilled(id, target)
	}
	m.logger.Debug("field filled", zap.String("field", id), zap.String("tag", target.Tag()))
	return true
}

// ApplyAutofill fills items in order and returns the ids that succeeded.
// Each success is recorded in the filled fields map. One failing item
// never stops the rest.
func (m *Manipulator) ApplyAutofill(ctx context.Context, items []Item) []string {
	var filled []string
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if !m.FillField(ctx, it.ID, it.Value) {
			continue
		}
		filled = append(filled, it.ID)
		m.record(it.ID, it.Value.String())
	}
	m.logger.Info("autofill applied",
		zap.Int("requested", len(items)),
		zap.Int("filled", len(filled)))
	return filled
}

// FilledFields returns a snapshot of every field filled this session.
func (m *Manipulator) FilledFields() map[string]string {
	m.filledMu.Lock()
	defer m.filledMu.Unlock()
	out := make(map[string]string, len(m.filled))
	for k, v := range m.filled {
		out[k] = v
	}
	return out
}

// Reset forgets the filled fields and makes every pending retry chain
// stale. It is called when a new session starts.
func (m *Manipulator) Reset() {
	m.filledMu.Lock()
	m.filled = map[string]string{}
	m.filledMu.Unlock()

	m.mu.Lock()
	for id := range m.gens {
		m.gens[id]++
	}
	m.mu.Unlock()
}

// Wait blocks until every searchable select chain has settled.
func (m *Manipulator) Wait() {
	m.chains.Wait()
}

func (m *Manipulator) record(id, value string) {
	m.filledMu.Lock()
	m.filled[id] = value
	m.filledMu.Unlock()
}

// fill resolves and writes. A nil node with a nil error is a miss.
func (m *Manipulator) fill(id string, v Value) (dom.Node, error) {
	if v.IsClick() {
		return m.clickAction(id)
	}

	if isNavigation(id) {
		m.logger.Warn("refusing to write into a navigation element", zap.String("field", id))
		return nil, nil
	}

	if strings.HasSuffix(id, "-radio") {
		container := m.byID(id)
		if container == nil {
			container = m.scanner.Element(id)
		}
		if container == nil {
			m.logger.Debug("radio container not found", zap.String("field", id))
			return nil, nil
		}
		return m.setRadio(container, v.String())
	}

	el := m.locate(id)
	if el == nil {
		m.logger.Debug("no writable target", zap.String("field", id))
		return nil, nil
	}
	if !isWritable(el) {
		inner := m.bestInput(el)
		if inner == nil {
			m.logger.Debug("target is not writable", zap.String("field", id), zap.String("tag", el.Tag()))
			return nil, nil
		}
		el = inner
	}

	if m.isSearchableSelect(id, el) {
		container := m.byID(id)
		if container == nil {
			container = el.Closest(`.select, [class*="select"]`)
		}
		if container == nil {
			container = el.Parent()
		}
		if container == nil {
			container = el
		}
		return m.startSearch(id, container, el, v.String())
	}

	switch inferType(el) {
	case crawler.TypeSelect:
		return m.setSelect(el, v.String())
	case crawler.TypeCheckbox:
		return m.setCheckbox(el, v)
	case crawler.TypeRadio:
		return m.setRadio(el, v.String())
	case crawler.TypeButton:
		return nil, fmt.Errorf("%s is an action element, send %q to click it", id, ClickSentinel)
	default:
		return m.setText(el, v.String())
	}
}

func isNavigation(id string) bool {
	low := strings.ToLower(id)
	return strings.Contains(low, "-link") || strings.Contains(low, "-load-previous")
}

func (m *Manipulator) byID(id string) dom.Node {
	return m.doc.Query(dom.AttrEquals(m.attr, id))
}

func (m *Manipulator) highlight(n dom.Node) {
	h, ok := n.(dom.Highlighter)
	if !ok {
		return
	}
	if err := h.Highlight(m.opts.HighlightFor); err != nil {
		m.logger.Debug("highlight failed", zap.Error(err))
	}
}
