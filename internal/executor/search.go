package executor

import (
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/dom"
)

// SearchOutcome is how a searchable select chain ended.
type SearchOutcome int

const (
	// SearchSelected means an option was found and clicked.
	SearchSelected SearchOutcome = iota
	// SearchExhausted means no option appeared; the typed text stays.
	SearchExhausted
	// SearchSuperseded means a later fill of the same field took over.
	SearchSuperseded
)

func (o SearchOutcome) String() string {
	switch o {
	case SearchSelected:
		return "selected"
	case SearchExhausted:
		return "exhausted"
	case SearchSuperseded:
		return "superseded"
	}
	return "unknown"
}

type searchState int

const (
	searchIdle searchState = iota
	searchTyped
	searchPolling
	searchDone
)

const (
	scopedOptionSelector = `.select-option, [role="option"], li[class*="option"]`
	globalOptionSelector = `.select-dropdown [role="option"], .select-menu [role="option"], [class*="select"] [role="option"], [class*="dropdown"] li, [class*="listbox"] [role="option"], .select-option`
)

// placeholders are option texts that never count as a choice.
var placeholders = map[string]bool{
	"":               true,
	"seleccionar":    true,
	"seleccionar...": true,
	"select":         true,
	"select...":      true,
}

// search is one searchable select resolution: type the query, then poll
// for options on the scheduler until one is clicked or the delay table
// runs out.
type search struct {
	m         *Manipulator
	id        string
	gen       uint64
	container dom.Node
	input     dom.Node
	query     string
	attempt   int
	state     searchState
}

// startSearch types the query and schedules the first poll. The caller
// holds m.mu. The write itself is the success: an exhausted chain still
// leaves the text for the user to complete.
func (m *Manipulator) startSearch(id string, container, input dom.Node, query string) (dom.Node, error) {
	s := &search{
		m:         m,
		id:        id,
		gen:       m.gens[id],
		container: container,
		input:     input,
		query:     query,
	}
	if err := s.typeQuery(); err != nil {
		return nil, err
	}
	s.state = searchPolling
	m.chains.Add(1)
	s.schedule()
	return input, nil
}

func (s *search) typeQuery() error {
	if err := s.input.Focus(); err != nil {
		return err
	}
	if err := s.input.Dispatch("focus"); err != nil {
		return err
	}
	if err := s.input.SetValue(s.query); err != nil {
		return err
	}
	events := []string{"input", "change"}
	if s.query != "" {
		events = append(events, "keydown", "keyup")
	}
	if err := fire(s.input, events...); err != nil {
		return err
	}
	s.state = searchTyped
	return nil
}

func (s *search) schedule() {
	s.m.sched.AfterFunc(s.m.opts.RetryDelays[s.attempt], s.poll)
}

func (s *search) poll() {
	m := s.m
	m.mu.Lock()
	outcome, done := s.step()
	m.mu.Unlock()

	if !done {
		s.schedule()
		return
	}
	s.state = searchDone
	m.logger.Debug("searchable select settled",
		zap.String("field", s.id),
		zap.Stringer("outcome", outcome),
		zap.Int("attempts", s.attempt+1))
	if m.opts.OnSearchSettled != nil {
		m.opts.OnSearchSettled(s.id, outcome)
	}
	m.chains.Done()
}

// step runs one attempt. The caller holds m.mu.
func (s *search) step() (outcome SearchOutcome, done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.m.logger.Error("searchable select attempt panicked",
				zap.String("field", s.id), zap.Any("panic", r))
			outcome, done = SearchExhausted, true
		}
	}()

	if s.m.gens[s.id] != s.gen {
		return SearchSuperseded, true
	}

	if opt := s.pick(); opt != nil {
		if err := opt.Click(); err != nil {
			s.m.logger.Warn("clicking option failed", zap.String("field", s.id), zap.Error(err))
		}
		_ = fire(opt, "mousedown", "mouseup")
		s.m.highlight(s.container)
		return SearchSelected, true
	}

	if s.attempt+1 >= len(s.m.opts.RetryDelays) {
		return SearchExhausted, true
	}
	s.attempt++
	return 0, false
}

// pick returns the option to click, or nil when none is showing yet.
func (s *search) pick() dom.Node {
	candidates := s.container.QueryAll(scopedOptionSelector)
	if len(candidates) == 0 {
		candidates = s.m.doc.QueryAll(globalOptionSelector)
	}

	var valid []dom.Node
	for _, c := range candidates {
		text := strings.ToLower(strings.TrimSpace(c.Text()))
		if placeholders[text] || !c.Visible() {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}

	want := strings.ToLower(s.query)
	for _, c := range valid {
		if strings.Contains(strings.ToLower(c.Text()), want) {
			return c
		}
	}
	return valid[0]
}
