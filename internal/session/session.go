// Package session runs dictation sessions: it announces the scanned form
// to the backend, streams the microphone, and applies the autofill
// instructions that come back.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/executor"
	"github.com/v0xg/voicefill/internal/recorder"
	"github.com/v0xg/voicefill/internal/transport"
)

// ErrNotReady is returned by Start when the backend did not confirm the
// form structure in time, or answered with an error.
var ErrNotReady = errors.New("session: backend not ready")

// ErrActive is returned by Start while a session is already recording.
var ErrActive = errors.New("session: already recording")

// ErrStopped is returned by Start when Stop was called before recording
// began.
var ErrStopped = errors.New("session: stopped before recording")

// Conn is a backend connection.
type Conn interface {
	SendStructure(ctx context.Context, fields []crawler.Field, filled map[string]string) error
	SendAudio(frame []byte) bool
	EndStream(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a backend connection delivering inbound messages to h.
type Dialer func(ctx context.Context, h transport.Handlers) (Conn, error)

// TransportDialer dials url with the websocket transport.
func TransportDialer(url string, opts transport.Options) Dialer {
	return func(ctx context.Context, h transport.Handlers) (Conn, error) {
		c, err := transport.Dial(ctx, url, h, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Recorder captures audio.
type Recorder interface {
	Start(ctx context.Context, sink recorder.Sink) error
	Stop()
}

// State is where a Controller is in its cycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWaitingReady
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWaitingReady:
		return "waiting_ready"
	case StateRecording:
		return "recording"
	}
	return "idle"
}

// Options configures a Controller.
type Options struct {
	ReadyTimeout time.Duration
	// DumpDir, when set, receives a WAV file per session.
	DumpDir string
	// Dismisser, when set, sweeps confirmation dialogs after every batch
	// that filled something.
	Dismisser       *executor.Dismisser
	DismissAttempts int
	Logger          *zap.Logger

	// OnTranscript runs when the transcript or its interim part changes.
	OnTranscript func(text, interim string)
	// OnFilled runs after every batch with the ids that were filled.
	OnFilled func(ids []string, sourceText string)
	// OnMessage runs for info and error messages from the backend.
	OnMessage func(message string, isError bool)
	// OnState runs on every state change with the controller locked; it
	// must not call back into the Controller.
	OnState func(State)
}

// Controller owns one backend connection and runs sessions on it.
type Controller struct {
	scanner *crawler.Scanner
	manip   *executor.Manipulator
	rec     Recorder
	dial    Dialer
	opts    Options
	logger  *zap.Logger

	transcript Transcript

	mu    sync.Mutex
	state State
	conn  Conn
	ready chan bool
	dump  *recorder.WAVDump
	// abort cancels a Start that has not reached StateRecording.
	abort context.CancelFunc
	// ctx bounds the autofill work triggered by inbound messages.
	ctx    context.Context
	cancel context.CancelFunc

	sweeps sync.WaitGroup
}

// New creates a Controller.
func New(scanner *crawler.Scanner, manip *executor.Manipulator, rec Recorder, dial Dialer, opts Options) *Controller {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	if opts.DismissAttempts <= 0 {
		opts.DismissAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		scanner: scanner,
		manip:   manip,
		rec:     rec,
		dial:    dial,
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the session transcript.
func (c *Controller) Transcript() *Transcript {
	return &c.transcript
}

// Start scans the form, announces it with the fields filled so far, waits
// for the backend to acknowledge, and starts streaming the microphone.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrActive
	}
	startCtx, abort := context.WithCancel(ctx)
	defer abort()
	c.abort = abort
	c.setState(StateConnecting)
	c.mu.Unlock()

	dump, err := c.start(startCtx)

	c.mu.Lock()
	c.abort = nil
	aborted := startCtx.Err() != nil
	if err == nil && !aborted {
		c.dump = dump
		c.setState(StateRecording)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err == nil {
		// Stop arrived after the recorder started.
		c.rec.Stop()
		if dump != nil {
			_ = dump.Close()
		}
		err = startCtx.Err()
	}

	c.mu.Lock()
	c.ready = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	if aborted && ctx.Err() == nil {
		c.logger.Info("start aborted by stop")
		return ErrStopped
	}
	return err
}

func (c *Controller) start(ctx context.Context) (*recorder.WAVDump, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	fields := c.scanner.Scan()
	c.transcript.Reset()
	c.notifyTranscript()

	ready := make(chan bool, 1)
	c.mu.Lock()
	c.ready = ready
	c.setState(StateWaitingReady)
	c.mu.Unlock()

	if err := conn.SendStructure(ctx, fields, c.manip.FilledFields()); err != nil {
		return nil, fmt.Errorf("send form structure: %w", err)
	}
	c.logger.Info("form structure sent", zap.Int("fields", len(fields)))

	timer := time.NewTimer(c.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case ok := <-ready:
		if !ok {
			return nil, fmt.Errorf("%w: backend answered with an error", ErrNotReady)
		}
	case <-timer.C:
		c.logger.Warn("timed out waiting for backend", zap.Duration("timeout", c.opts.ReadyTimeout))
		return nil, fmt.Errorf("%w: no answer within %s", ErrNotReady, c.opts.ReadyTimeout)
	case <-conn.Done():
		return nil, fmt.Errorf("%w: %w", ErrNotReady, transport.ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var dump *recorder.WAVDump
	if c.opts.DumpDir != "" {
		dump, err = recorder.NewWAVDump(c.opts.DumpDir, c.logger)
		if err != nil {
			c.logger.Warn("wav dump disabled", zap.Error(err))
			dump = nil
		}
	}
	sink := func(frame []byte) { conn.SendAudio(frame) }
	if dump != nil {
		sink = recorder.Tee(sink, dump.Write)
	}

	if err := c.rec.Start(ctx, sink); err != nil {
		if dump != nil {
			_ = dump.Close()
		}
		return nil, err
	}
	return dump, nil
}

// connection returns the live connection, dialing when there is none or
// the previous one ended.
func (c *Controller) connection(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		select {
		case <-conn.Done():
			c.logger.Info("backend connection lost, reconnecting")
			_ = conn.Close()
		default:
			return conn, nil
		}
	}

	conn, err := c.dial(ctx, c.handlers())
	if err != nil {
		return nil, fmt.Errorf("connect to backend: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// Stop ends the capture and tells the backend the stream is over. The
// connection stays open so late autofill messages are still applied.
// During the handshake Stop aborts the pending Start, which then returns
// ErrStopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRecording:
	case StateConnecting, StateWaitingReady:
		if c.abort != nil {
			c.abort()
		}
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	dump := c.dump
	c.dump = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	c.rec.Stop()

	var errs []error
	if dump != nil {
		if err := dump.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.EndStream(ctx); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = append(errs, fmt.Errorf("end stream: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close stops any session, closes the connection and waits for pending
// autofill work.
func (c *Controller) Close() error {
	err := c.Stop(context.Background())

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	c.sweeps.Wait()
	c.manip.Wait()
	return err
}

// setState must be called with c.mu held.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Controller) handlers() transport.Handlers {
	return transport.Handlers{
		OnPartialTranscription: func(text string, final bool) {
			if final {
				c.transcript.Append(text)
			} else {
				c.transcript.SetInterim(text)
			}
			c.notifyTranscript()
		},
		OnFinalSegment: func(text string) {
			c.transcript.Append(text)
			c.notifyTranscript()
		},
		OnTranscription: func(text string) {
			c.transcript.Replace(text)
			c.notifyTranscript()
		},
		OnAutofill: c.applyAutofill,
		OnInfo: func(message string) {
			c.logger.Info("backend info", zap.String("message", message))
			c.signalReady(true)
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(message, false)
			}
		},
		OnError: func(message string) {
			c.signalReady(false)
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(message, true)
			}
		},
	}
}

// signalReady resolves a pending ready wait. Only the first info or error
// after the structure message counts.
func (c *Controller) signalReady(ok bool) {
	c.mu.Lock()
	ready := c.ready
	c.ready = nil
	c.mu.Unlock()
	if ready != nil {
		ready <- ok
	}
}

func (c *Controller) applyAutofill(items []executor.Item, sourceText string) {
	filled := c.manip.ApplyAutofill(c.ctx, items)
	if len(filled) == 0 {
		return
	}
	c.logger.Info("fields filled",
		zap.Strings("fields", filled),
		zap.String("source", truncate(sourceText, 100)))
	if c.opts.OnFilled != nil {
		c.opts.OnFilled(filled, sourceText)
	}
	if d := c.opts.Dismisser; d != nil {
		c.sweeps.Add(1)
		go func() {
			defer c.sweeps.Done()
			d.Sweep(c.ctx, c.opts.DismissAttempts)
		}()
	}
}

func (c *Controller) notifyTranscript() {
	if c.opts.OnTranscript != nil {
		c.opts.OnTranscript(c.transcript.Text(), c.transcript.Interim())
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
