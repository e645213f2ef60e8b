// Package transport speaks the dictation protocol with the backend over a
// single websocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/executor"
)

// DefaultURL is where the backend listens by default.
const DefaultURL = "ws://localhost:8000/ws/voice-stream"

// ErrClosed is returned by sends on a closed client.
var ErrClosed = errors.New("transport: connection closed")

const (
	defaultQueue     = 128
	defaultHandshake = 10 * time.Second
	writeWait        = 5 * time.Second
)

// Handlers receive inbound messages. They run on the reader goroutine,
// one at a time and in arrival order. Nil handlers are skipped.
type Handlers struct {
	OnPartialTranscription func(text string, final bool)
	OnFinalSegment         func(text string)
	OnTranscription        func(text string)
	OnAutofill             func(items []executor.Item, sourceText string)
	OnInfo                 func(message string)
	OnError                func(message string)
}

// Options configures a Client.
type Options struct {
	// QueueSize bounds outbound messages waiting for the socket.
	QueueSize        int
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Client is one backend connection. A reader and a writer goroutine own
// the socket until Close.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers
	logger   *zap.Logger

	out     chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	dropped atomic.Int64

	closeOnce sync.Once
	finished  chan struct{}
	err       error
}

// Dial connects to url and starts the reader and writer.
func Dial(ctx context.Context, url string, h Handlers, opts Options) (*Client, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueue
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshake
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		handlers: h,
		logger:   opts.Logger,
		out:      make(chan []byte, opts.QueueSize),
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(runCtx)
	c.ctx = gctx
	g.Go(c.readLoop)
	g.Go(c.writeLoop)
	go func() {
		c.err = g.Wait()
		cancel()
		close(c.finished)
	}()

	c.logger.Info("connected to backend", zap.String("url", url))
	return c, nil
}

// SendStructure announces the scanned form and the fields already filled.
func (c *Client) SendStructure(ctx context.Context, fields []crawler.Field, filled map[string]string) error {
	msg, err := encodeStructure(fields, filled)
	if err != nil {
		return fmt.Errorf("encode form structure: %w", err)
	}
	return c.send(ctx, msg)
}

// EndStream tells the backend no more audio follows.
func (c *Client) EndStream(ctx context.Context) error {
	msg, err := encodeEndStream()
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// SendAudio queues one PCM16 frame without blocking. It reports false when
// the frame was dropped because the queue is full or the client closed.
func (c *Client) SendAudio(frame []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	msg, err := encodeAudio(frame)
	if err != nil {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		if c.dropped.Add(1)%50 == 1 {
			c.logger.Warn("audio queue full, dropping frames", zap.Int64("dropped", c.dropped.Load()))
		}
		return false
	}
}

// Dropped returns how many audio frames were discarded.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Done is closed once both goroutines have exited.
func (c *Client) Done() <-chan struct{} { return c.finished }

// Err returns why the connection ended. It is nil for a clean close and
// only meaningful after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.finished:
		return c.err
	default:
		return nil
	}
}

// Close flushes queued messages, says goodbye and waits for the
// goroutines to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
	})
	<-c.finished
	return c.err
}

func (c *Client) send(ctx context.Context, msg []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.cancel()
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(m Inbound) {
	h := c.handlers
	switch m.Type {
	case TypePartialTranscription:
		if h.OnPartialTranscription != nil {
			h.OnPartialTranscription(m.Text, m.IsFinal)
		}
	case TypeFinalSegment:
		if h.OnFinalSegment != nil {
			h.OnFinalSegment(m.Text)
		}
	case TypeTranscription:
		if h.OnTranscription != nil {
			h.OnTranscription(m.Text)
		}
	case TypePartialAutofill, TypeAutofillData:
		items := m.AutofillItems()
		if len(items) > 0 && h.OnAutofill != nil {
			h.OnAutofill(items, m.SourceText)
		}
	case TypeInfo:
		if h.OnInfo != nil {
			h.OnInfo(m.Message)
		}
	case TypeError:
		c.logger.Warn("backend error", zap.String("message", m.Message))
		if h.OnError != nil {
			h.OnError(m.Message)
		}
	case TypeValidationResult, TypeTTSAudio:
	default:
		c.logger.Debug("ignoring message", zap.String("type", m.Type))
	}
}

// writeLoop is the only writer of the socket. On shutdown it drains what
// is queued, sends a close frame and closes the connection, which also
// unblocks the reader.
func (c *Client) writeLoop() error {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-c.ctx.Done():
			if !c.closing.Load() {
				return nil
			}
			for {
				select {
				case msg := <-c.out:
					if err := c.write(msg); err != nil {
						return nil
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return nil
				}
			}
		}
	}
}

func (c *Client) write(msg []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}
