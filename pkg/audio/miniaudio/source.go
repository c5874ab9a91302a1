// Package miniaudio implements [audio.Source] on top of miniaudio through
// github.com/gen2brain/malgo. It captures from the system default input
// device as interleaved int16 PCM.
//
// Building this package requires CGO.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/ambient/pkg/audio"
)

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate requests a capture sample rate. Zero lets the device choose
// its native rate. Default: 0.
func WithSampleRate(hz int) Option {
	return func(s *Source) {
		s.sampleRate = hz
	}
}

// WithChannels requests a channel count. Default: 1.
func WithChannels(n int) Option {
	return func(s *Source) {
		s.channels = n
	}
}

// WithPeriod sets the device period (buffer size) in milliseconds.
// Default: 20.
func WithPeriod(ms int) Option {
	return func(s *Source) {
		s.periodMs = ms
	}
}

// Source captures from the default input device.
type Source struct {
	sampleRate int
	channels   int
	periodMs   int

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	// gen increments per Open so that a stale stop callback from a previous
	// device cannot report against the current one.
	gen uint64
}

// New returns an unopened Source.
func New(opts ...Option) *Source {
	s := &Source{channels: 1, periodMs: 20}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, onData func([]byte), onStop func(error)) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return audio.Format{}, errors.New("malgo: source already open")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo: backend", "msg", msg)
	})
	if err != nil {
		return audio.Format{}, fmt.Errorf("malgo: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.channels)
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(s.periodMs)
	cfg.Alsa.NoMMap = 1

	s.gen++
	gen := s.gen
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				onData(input)
			}
		},
		Stop: func() {
			s.mu.Lock()
			current := s.gen == gen && s.device != nil
			s.mu.Unlock()
			if current && onStop != nil {
				onStop(errors.New("malgo: device stopped"))
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return audio.Format{}, fmt.Errorf("malgo: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return audio.Format{}, fmt.Errorf("malgo: start device: %w", err)
	}

	s.mctx = mctx
	s.device = device

	f := audio.Format{
		SampleRate: int(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
	}
	slog.Info("malgo: capture device opened", "format", f.String())
	return f, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	device, mctx := s.device, s.mctx
	s.device, s.mctx = nil, nil
	s.gen++
	s.mu.Unlock()

	if device == nil {
		return nil
	}
	// Uninit stops the device and waits for the data callback to return.
	device.Uninit()
	err := mctx.Uninit()
	mctx.Free()
	if err != nil {
		return fmt.Errorf("malgo: close: %w", err)
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
