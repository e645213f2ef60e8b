package executor

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs delayed callbacks. The searchable select flow polls
// through it instead of sleeping.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// ManualScheduler queues callbacks until they are run explicitly. It makes
// retry chains deterministic in tests and replays.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []scheduled
}

type scheduled struct {
	at  time.Duration
	seq int
	f   func()
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = append(s.pending, scheduled{at: s.now + d, seq: s.seq, f: f})
	sort.Slice(s.pending, func(i, j int) bool {
		if s.pending[i].at == s.pending[j].at {
			return s.pending[i].seq < s.pending[j].seq
		}
		return s.pending[i].at < s.pending[j].at
	})
}

// Pending returns the number of queued callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Elapsed returns the virtual time consumed so far.
func (s *ManualScheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RunNext advances virtual time to the earliest callback and runs it.
// It returns false when nothing is queued.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.now = next.at
	s.mu.Unlock()

	next.f()
	return true
}

// RunAll runs callbacks, including ones queued while running, until the
// queue is empty.
func (s *ManualScheduler) RunAll() int {
	n := 0
	for s.RunNext() {
		n++
	}
	return n
}
