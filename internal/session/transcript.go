package session

import (
	"strings"
	"sync"
)

// Transcript accumulates what the backend has recognized so far.
type Transcript struct {
	mu      sync.Mutex
	text    string
	interim string
}

// Append adds a final segment.
func (t *Transcript) Append(segment string) {
	segment = strings.TrimSpace(segment)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interim = ""
	if segment == "" {
		return
	}
	if t.text != "" {
		t.text += " "
	}
	t.text += segment
}

// Replace overwrites the transcript with the backend's full version.
func (t *Transcript) Replace(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text = text
	t.interim = ""
}

// SetInterim records a partial hypothesis shown after the final text.
func (t *Transcript) SetInterim(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interim = text
}

// Reset clears everything.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text = ""
	t.interim = ""
}

// Text returns the final text.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

// Interim returns the pending partial hypothesis.
func (t *Transcript) Interim() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interim
}
