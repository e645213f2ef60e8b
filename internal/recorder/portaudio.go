package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Source opens capture streams on an input device.
type Source interface {
	// Open prepares a mono stream that calls process with blocks of
	// blockSize samples once started.
	Open(blockSize int, process func([]float32)) (Stream, error)
}

// Stream is an opened capture stream.
type Stream interface {
	// SampleRate is the native rate the device delivers.
	SampleRate() float64
	Start() error
	// Stop disconnects the callback.
	Stop() error
	// Close releases the stream.
	Close() error
	// Release gives the device back to the host.
	Release() error
}

// Device describes an input device.
type Device struct {
	Name       string
	Channels   int
	SampleRate float64
	Default    bool
}

// PortAudio captures from a PortAudio input device at its default rate.
type PortAudio struct {
	// Device selects an input by name. Empty means the system default.
	Device string
}

// Open implements Source.
func (p PortAudio) Open(blockSize int, process func([]float32)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classify(err)
	}

	dev, err := p.pick()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = dev.DefaultSampleRate
	params.FramesPerBuffer = blockSize

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		process(in)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, classify(err)
	}
	return &paStream{s: stream, rate: dev.DefaultSampleRate}, nil
}

func (p PortAudio) pick() (*portaudio.DeviceInfo, error) {
	if p.Device == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, classify(err)
		}
		if dev == nil || dev.MaxInputChannels < 1 {
			return nil, &AcquireError{Reason: ReasonNoDevice}
		}
		return dev, nil
	}

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, classify(err)
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 && strings.EqualFold(d.Name, p.Device) {
			return d, nil
		}
	}
	return nil, &AcquireError{Reason: ReasonNoDevice, Err: fmt.Errorf("no input device named %q", p.Device)}
}

// ListDevices returns every device that can capture.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classify(err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, classify(err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Device
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}

// classify maps PortAudio failures onto acquisition reasons.
func classify(err error) error {
	var pe portaudio.Error
	if errors.As(err, &pe) {
		switch pe {
		case portaudio.DeviceUnavailable:
			return &AcquireError{Reason: ReasonBusy, Err: err}
		case portaudio.InvalidDevice:
			return &AcquireError{Reason: ReasonNoDevice, Err: err}
		}
	}
	return &AcquireError{Reason: ReasonUnavailable, Err: err}
}

type paStream struct {
	s    *portaudio.Stream
	rate float64
	once sync.Once
}

func (p *paStream) SampleRate() float64 { return p.rate }
func (p *paStream) Start() error        { return p.s.Start() }
func (p *paStream) Stop() error         { return p.s.Stop() }
func (p *paStream) Close() error        { return p.s.Close() }

func (p *paStream) Release() error {
	var err error
	p.once.Do(func() { err = portaudio.Terminate() })
	return err
}
