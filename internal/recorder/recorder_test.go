package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	rate    float64
	openErr error
	gate    chan struct{}
	opened  chan struct{}

	mu      sync.Mutex
	process func([]float32)
	stream  *fakeStream
}

func (f *fakeSource) Open(blockSize int, process func([]float32)) (Stream, error) {
	if f.opened != nil {
		close(f.opened)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.process = process
	f.stream = &fakeStream{rate: f.rate}
	return f.stream, nil
}

func (f *fakeSource) emit(block []float32) {
	f.mu.Lock()
	p := f.process
	f.mu.Unlock()
	p(block)
}

type fakeStream struct {
	rate      float64
	stopPanic bool

	mu    sync.Mutex
	calls []string
}

func (s *fakeStream) log(c string) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *fakeStream) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStream) SampleRate() float64 { return s.rate }
func (s *fakeStream) Start() error        { s.log("start"); return nil }
func (s *fakeStream) Stop() error {
	s.log("stop")
	if s.stopPanic {
		panic("device vanished")
	}
	return nil
}
func (s *fakeStream) Close() error   { s.log("close"); return nil }
func (s *fakeStream) Release() error { s.log("release"); return nil }

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) / float32(n)
	}
	return out
}

func TestDownsample48k(t *testing.T) {
	in := ramp(4096)
	out := Downsample(in, 48000, TargetRate)

	require.Len(t, out, 1365)
	for i, s := range out {
		require.Equal(t, in[3*i], s, "sample %d", i)
	}
}

func TestDownsampleOddRatio(t *testing.T) {
	in := ramp(BlockSize)
	out := Downsample(in, 44100, TargetRate)

	ratio := 44100.0 / TargetRate
	require.Len(t, out, int(math.Floor(BlockSize/ratio)))
	for i, s := range out {
		assert.Equal(t, in[int(math.Floor(float64(i)*ratio))], s)
	}
}

func TestDownsampleSameRate(t *testing.T) {
	in := ramp(64)
	assert.Equal(t, in, Downsample(in, 16000, TargetRate))
	assert.Equal(t, in, Downsample(in, 16000.5, TargetRate))
}

func TestDownsampleEmpty(t *testing.T) {
	assert.Empty(t, Downsample(nil, 48000, TargetRate))
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-7, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.in), "quantize %v", tt.in)
	}
}

func TestEncodePCM16LittleEndian(t *testing.T) {
	got := EncodePCM16([]float32{-1, 1, 0})
	assert.Equal(t, []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00}, got)
}

func TestConvertWithinOneLSB(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 10))
	}
	frame := Convert(in, 48000)
	require.Len(t, frame, 2*1600)

	for i := 0; i < 1600; i++ {
		got := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		want := float64(in[3*i]) * 32767
		if in[3*i] < 0 {
			want = float64(in[3*i]) * 32768
		}
		assert.InDelta(t, want, float64(got), 1.0, "sample %d", i)
	}
}

func TestRecorderStreamsFrames(t *testing.T) {
	src := &fakeSource{rate: 48000}
	rec := New(src, nil)

	var mu sync.Mutex
	var frames [][]byte
	err := rec.Start(context.Background(), func(b []byte) {
		mu.Lock()
		frames = append(frames, b)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, StateRecording, rec.State())

	src.emit(ramp(BlockSize))
	src.emit(ramp(BlockSize))

	mu.Lock()
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 2*(BlockSize/3))
	mu.Unlock()
	assert.EqualValues(t, 2, rec.Frames())

	rec.Stop()
	assert.Equal(t, StateStopped, rec.State())
	assert.Equal(t, []string{"start", "stop", "close", "release"}, src.stream.Calls())
}

func TestRecorderIgnoresBlocksAfterStop(t *testing.T) {
	src := &fakeSource{rate: 16000}
	rec := New(src, nil)

	calls := 0
	require.NoError(t, rec.Start(context.Background(), func([]byte) { calls++ }))
	src.emit(ramp(16))
	rec.Stop()
	src.emit(ramp(16))

	assert.Equal(t, 1, calls)
}

func TestRecorderStopIdempotent(t *testing.T) {
	src := &fakeSource{rate: 48000}
	rec := New(src, nil)

	rec.Stop()
	require.NoError(t, rec.Start(context.Background(), func([]byte) {}))
	rec.Stop()
	rec.Stop()

	assert.Equal(t, []string{"start", "stop", "close", "release"}, src.stream.Calls())
}

func TestRecorderStopDuringStart(t *testing.T) {
	src := &fakeSource{
		rate:   48000,
		gate:   make(chan struct{}),
		opened: make(chan struct{}),
	}
	rec := New(src, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- rec.Start(context.Background(), func([]byte) {
			t.Error("no frame expected")
		})
	}()

	<-src.opened
	require.Equal(t, StateStarting, rec.State())
	rec.Stop()
	close(src.gate)

	select {
	case err := <-errc:
		var ae *AcquireError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, ReasonCanceled, ae.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Equal(t, StateStopped, rec.State())
	assert.Equal(t, []string{"stop", "close", "release"}, src.stream.Calls())
}

func TestRecorderRestart(t *testing.T) {
	src := &fakeSource{rate: 48000}
	rec := New(src, nil)

	require.NoError(t, rec.Start(context.Background(), func([]byte) {}))
	require.Error(t, rec.Start(context.Background(), func([]byte) {}))
	rec.Stop()

	require.NoError(t, rec.Start(context.Background(), func([]byte) {}))
	assert.Equal(t, StateRecording, rec.State())
	rec.Stop()
}

func TestRecorderAcquireErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		openErr error
		reason  Reason
	}{
		{"typed", &AcquireError{Reason: ReasonBusy}, ReasonBusy},
		{"denied", &AcquireError{Reason: ReasonDenied}, ReasonDenied},
		{"untyped", boom, ReasonUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := New(&fakeSource{openErr: tt.openErr}, nil)
			err := rec.Start(context.Background(), func([]byte) {})

			var ae *AcquireError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.reason, ae.Reason)
			assert.NotEmpty(t, ae.Error())
			assert.Equal(t, StateIdle, rec.State())
		})
	}
}

func TestRecorderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(&fakeSource{rate: 16000}, nil).Start(ctx, func([]byte) {})
	var ae *AcquireError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ReasonCanceled, ae.Reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTeardownContinuesAfterPanic(t *testing.T) {
	src := &fakeSource{rate: 16000}
	rec := New(src, nil)
	require.NoError(t, rec.Start(context.Background(), func([]byte) {}))
	src.stream.stopPanic = true

	assert.NotPanics(t, rec.Stop)
	assert.Equal(t, []string{"start", "stop", "close", "release"}, src.stream.Calls())
}

func TestAcquireErrorMessages(t *testing.T) {
	err := &AcquireError{Reason: ReasonBusy, Err: errors.New("paDeviceUnavailable")}
	assert.Equal(t, "the microphone is in use by another application: paDeviceUnavailable", err.Error())
	assert.Equal(t, "no microphone was found", (&AcquireError{Reason: ReasonNoDevice}).Error())
	assert.Equal(t, "device busy", ReasonBusy.String())
}

func TestTee(t *testing.T) {
	var a, b []byte
	sink := Tee(func(f []byte) { a = f }, nil, func(f []byte) { b = f })
	sink([]byte{1, 2})
	assert.Equal(t, []byte{1, 2}, a)
	assert.Equal(t, []byte{1, 2}, b)
}

func TestWAVDump(t *testing.T) {
	dir := t.TempDir()
	d, err := NewWAVDump(dir, nil)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`voicefill_[0-9a-f]{16}\.wav$`), d.Path())
	assert.Equal(t, dir, filepath.Dir(d.Path()))

	d.Write(EncodePCM16([]float32{0, 0.5, -0.5, 1}))
	d.Write(EncodePCM16([]float32{-1, 0}))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Zero(t, d.Dropped())

	f, err := os.Open(d.Path())
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, TargetRate, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	assert.Equal(t, []int{0, 16383, -16384, 32767, -32768, 0}, buf.Data)
}
