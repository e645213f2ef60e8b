// Package recorder captures the microphone and turns it into 16 kHz PCM16
// frames for the transport.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// BlockSize is the number of native samples per capture callback.
const BlockSize = 2048

// State represents recorder state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	}
	return "idle"
}

// Sink receives one encoded frame per capture callback. It runs on the
// audio thread and must not block.
type Sink func(frame []byte)

// Tee returns a Sink that hands each frame to every non-nil sink in turn.
func Tee(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return func(frame []byte) {
		for _, s := range live {
			s(frame)
		}
	}
}

// Recorder manages one capture at a time.
type Recorder struct {
	src    Source
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	stream  Stream
	stopped *atomic.Bool
	frames  atomic.Int64
}

// New creates a recorder over src. A nil logger disables logging.
func New(src Source, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{src: src, logger: logger, state: StateIdle}
}

// Start acquires the device and begins streaming frames to sink. A nil
// error means frames are flowing; any failure is an *AcquireError.
func (r *Recorder) Start(ctx context.Context, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return &AcquireError{Reason: ReasonCanceled, Err: err}
	}

	r.mu.Lock()
	if r.state == StateStarting || r.state == StateRecording {
		r.mu.Unlock()
		return fmt.Errorf("recorder is %s", r.state)
	}
	r.state = StateStarting
	stopped := new(atomic.Bool)
	r.stopped = stopped
	r.frames.Store(0)
	r.mu.Unlock()

	var rate float64
	stream, err := r.src.Open(BlockSize, func(block []float32) {
		if stopped.Load() {
			return
		}
		frame := Convert(block, rate)
		r.frames.Add(1)
		sink(frame)
	})
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		var ae *AcquireError
		if errors.As(err, &ae) {
			return ae
		}
		return &AcquireError{Reason: ReasonUnavailable, Err: err}
	}
	rate = stream.SampleRate()

	r.mu.Lock()
	if stopped.Load() || ctx.Err() != nil {
		// Stop ran while the device was being opened.
		r.state = StateStopped
		r.mu.Unlock()
		r.teardown(stream)
		return &AcquireError{Reason: ReasonCanceled, Err: context.Canceled}
	}
	r.stream = stream
	r.mu.Unlock()

	if err := stream.Start(); err != nil {
		r.mu.Lock()
		if stopped.Load() {
			r.mu.Unlock()
			return &AcquireError{Reason: ReasonCanceled, Err: context.Canceled}
		}
		r.stream = nil
		r.state = StateIdle
		r.mu.Unlock()
		r.teardown(stream)
		return &AcquireError{Reason: ReasonUnavailable, Err: err}
	}

	r.mu.Lock()
	if stopped.Load() {
		r.mu.Unlock()
		return &AcquireError{Reason: ReasonCanceled, Err: context.Canceled}
	}
	r.state = StateRecording
	r.mu.Unlock()

	r.logger.Info("recording started",
		zap.Float64("native_rate", rate),
		zap.Int("target_rate", TargetRate))
	return nil
}

// Stop ends the capture. It is idempotent and safe to call while Start is
// still acquiring the device.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != StateStarting && r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	if r.stopped != nil {
		r.stopped.Store(true)
	}
	stream := r.stream
	r.stream = nil
	r.state = StateStopped
	r.mu.Unlock()

	if stream != nil {
		r.teardown(stream)
	}
	r.logger.Info("recording stopped", zap.Int64("frames", r.frames.Load()))
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Frames returns how many frames the current capture produced.
func (r *Recorder) Frames() int64 {
	return r.frames.Load()
}

// teardown disconnects, closes and releases in that order. A failing step
// never prevents the next one.
func (r *Recorder) teardown(s Stream) {
	r.guard("stop stream", s.Stop)
	r.guard("close stream", s.Close)
	r.guard("release device", s.Release)
}

func (r *Recorder) guard(step string, f func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("recorder teardown panicked", zap.String("step", step), zap.Any("panic", p))
		}
	}()
	if err := f(); err != nil {
		r.logger.Warn("recorder teardown failed", zap.String("step", step), zap.Error(err))
	}
}
