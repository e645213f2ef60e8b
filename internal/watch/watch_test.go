package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/dom/htmldom"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDebouncerMaxBuffer(t *testing.T) {
	var flushed []int
	d := newDebouncer(time.Hour, 3, func(n int) { flushed = append(flushed, n) })
	defer d.stop()

	assert.False(t, d.add())
	assert.False(t, d.add())
	assert.True(t, d.add())
	assert.Equal(t, []int{3}, flushed)
	assert.Nil(t, d.timerC())
}

func TestDebouncerFlushEmpty(t *testing.T) {
	calls := 0
	d := newDebouncer(time.Hour, 10, func(int) { calls++ })
	d.flush()
	assert.Zero(t, calls)

	d.add()
	require.NotNil(t, d.timerC())
	d.flush()
	d.flush()
	assert.Equal(t, 1, calls)
}

func TestDebouncerWindow(t *testing.T) {
	got := make(chan int, 1)
	d := newDebouncer(10*time.Millisecond, 100, func(n int) { got <- n })
	defer d.stop()

	d.add()
	d.add()
	select {
	case <-d.timerC():
		d.flush()
	case <-time.After(time.Second):
		t.Fatal("window never expired")
	}
	assert.Equal(t, 2, <-got)
}

const page = `<html><body><form id="form">
  <div data-testid="exam-notes"><textarea></textarea></div>
</form></body></html>`

func TestWatcherRescansAfterMutation(t *testing.T) {
	doc := htmldom.MustParse(page)
	scanner := crawler.New(doc, crawler.Options{})
	scanner.Scan()

	var calls atomic.Int32
	var mu sync.Mutex
	var fields []crawler.Field
	w := New(doc, func(int) {
		mu.Lock()
		fields = scanner.Scan()
		mu.Unlock()
		calls.Add(1)
	}, Options{Window: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// The observer registers asynchronously; keep mutating until it sees us.
	require.Eventually(t, func() bool {
		_ = doc.Append("#form", `<div data-testid="od-pio"><input type="number"></div>`)
		return calls.Load() > 0
	}, 2*time.Second, 150*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)

	mu.Lock()
	defer mu.Unlock()
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "od-pio")
}

func TestWatcherCoalesces(t *testing.T) {
	doc := htmldom.MustParse(page)

	batches := make(chan int, 10)
	w := New(doc, func(n int) { batches <- n }, Options{Window: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// Wait for the observer to register.
	require.Eventually(t, func() bool {
		doc.SetAttr("#form", "data-tick", "x")
		select {
		case <-batches:
			return true
		default:
			return false
		}
	}, 2*time.Second, 250*time.Millisecond)

	for i := 0; i < 5; i++ {
		doc.SetAttr("#form", "data-tick", "y")
	}

	select {
	case n := <-batches:
		assert.GreaterOrEqual(t, n, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch after burst")
	}
	select {
	case n := <-batches:
		t.Fatalf("unexpected second batch of %d", n)
	case <-time.After(400 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-errc)
}

type failingSource struct{ err error }

func (f failingSource) Observe(context.Context, func()) error { return f.err }

func TestWatcherSourceError(t *testing.T) {
	boom := errors.New("binding lost")
	w := New(failingSource{err: boom}, func(int) {}, Options{})
	assert.ErrorIs(t, w.Run(context.Background()), boom)
}
