package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dumpQueue bounds how many frames may wait for the disk.
const dumpQueue = 256

// WAVDump writes the frames of one session to a 16 kHz mono WAV file.
// Write never blocks; frames arriving while the queue is full are dropped.
type WAVDump struct {
	path    string
	file    *os.File
	enc     *wav.Encoder
	frames  chan []byte
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
	err     error
	logger  *zap.Logger
}

// NewWAVDump creates voicefill_<id>.wav in dir, or in the working
// directory when dir is empty.
func NewWAVDump(dir string, logger *zap.Logger) (*WAVDump, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve dump dir: %w", err)
		}
		dir = cwd
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	path := filepath.Join(dir, fmt.Sprintf("voicefill_%s.wav", id))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}

	d := &WAVDump{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, TargetRate, 16, 1, 1),
		frames: make(chan []byte, dumpQueue),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.drain()
	return d, nil
}

// Path returns the file being written.
func (d *WAVDump) Path() string { return d.path }

// Dropped returns how many frames were discarded.
func (d *WAVDump) Dropped() int64 { return d.dropped.Load() }

// Write queues a PCM16 frame. It is a Sink.
func (d *WAVDump) Write(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case d.frames <- buf:
	default:
		d.dropped.Add(1)
	}
}

// Close flushes queued frames and finalizes the header.
func (d *WAVDump) Close() error {
	d.once.Do(func() {
		close(d.frames)
		<-d.done
		if err := d.enc.Close(); err != nil && d.err == nil {
			d.err = fmt.Errorf("finalize wav: %w", err)
		}
		if err := d.file.Close(); err != nil && d.err == nil {
			d.err = fmt.Errorf("close wav: %w", err)
		}
		d.logger.Info("wav dump written",
			zap.String("path", d.path),
			zap.Int64("dropped", d.dropped.Load()))
	})
	return d.err
}

func (d *WAVDump) drain() {
	defer close(d.done)
	format := &audio.Format{NumChannels: 1, SampleRate: TargetRate}
	for frame := range d.frames {
		ints := make([]int, len(frame)/2)
		for i := range ints {
			ints[i] = int(int16(binary.LittleEndian.Uint16(frame[2*i:])))
		}
		buf := &audio.IntBuffer{Format: format, Data: ints, SourceBitDepth: 16}
		if err := d.enc.Write(buf); err != nil && d.err == nil {
			d.err = fmt.Errorf("write wav: %w", err)
			d.logger.Warn("wav dump write failed", zap.Error(err))
		}
	}
}
