// Package watch rescans the form when the host page changes.
//
// Change notifications from a Source are debounced: a burst of mutations
// yields one rescan once the page has been quiet for the window, or
// immediately when MaxBuffer notifications pile up.
package watch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source reports DOM changes by calling notify until ctx is done.
type Source interface {
	Observe(ctx context.Context, notify func()) error
}

// Options controls the batching behaviour.
type Options struct {
	// Window is the quiet time before a rescan. Default: 250ms.
	Window time.Duration
	// MaxBuffer rescans immediately when this many changes accumulate.
	// Default: 1000.
	MaxBuffer int
	Logger    *zap.Logger
}

func (o *Options) defaults() {
	if o.Window <= 0 {
		o.Window = 250 * time.Millisecond
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = 1000
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Watcher turns change notifications into debounced calls of onChange.
type Watcher struct {
	src      Source
	onChange func(changes int)
	opts     Options
	notify   chan struct{}
}

// New creates a Watcher. onChange receives how many notifications the
// batch folded together.
func New(src Source, onChange func(changes int), opts Options) *Watcher {
	opts.defaults()
	return &Watcher{
		src:      src,
		onChange: onChange,
		opts:     opts,
		notify:   make(chan struct{}, 64),
	}
}

// Run observes until ctx is done or the source fails.
func (w *Watcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.src.Observe(gctx, func() {
			select {
			case w.notify <- struct{}{}:
			default:
				// A pending notification already guarantees a flush.
			}
		})
	})
	g.Go(func() error {
		w.loop(gctx)
		return nil
	})
	return g.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	d := newDebouncer(w.opts.Window, w.opts.MaxBuffer, w.flush)
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
			d.add()
		case <-d.timerC():
			d.flush()
		}
	}
}

func (w *Watcher) flush(changes int) {
	w.opts.Logger.Debug("page changed, rescanning", zap.Int("changes", changes))
	w.onChange(changes)
}

// debouncer counts notifications and flushes when the window expires or
// the buffer fills.
type debouncer struct {
	window    time.Duration
	maxBuffer int
	pending   int
	timer     *time.Timer
	timerCh   <-chan time.Time
	flushFn   func(int)
}

func newDebouncer(window time.Duration, maxBuffer int, flushFn func(int)) *debouncer {
	return &debouncer{window: window, maxBuffer: maxBuffer, flushFn: flushFn}
}

// add records one notification. Returns true if an immediate flush was
// triggered.
func (d *debouncer) add() bool {
	d.pending++
	if d.pending >= d.maxBuffer {
		d.flush()
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
	return false
}

func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if d.pending == 0 {
		return
	}
	n := d.pending
	d.pending = 0
	d.stop()
	d.flushFn(n)
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
