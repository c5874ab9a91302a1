// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every Open and Close call and
// lets the test push buffers through the registered callback with
// [Source.Emit] or simulate a device loss with [Source.Fail].
//
// Typical usage:
//
//	src := &mock.Source{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
//	c, _ := audio.NewCapture(audio.CaptureConfig{Source: src, OnFrame: handle})
//	_ = c.Start(ctx)
//	src.Emit(pcm)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ambient/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
// Set the exported Result fields before use; inspect the call counters after.
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by every successful Open.
	FormatResult audio.Format

	// OpenErrors is consumed one entry per Open call, in order. Once
	// exhausted, OpenError is returned.
	OpenErrors []error

	// OpenError is returned by Open after OpenErrors is exhausted.
	OpenError error

	// CloseError is returned by Close.
	CloseError error

	// OpenCalls records how many times Open was called.
	OpenCalls int

	// CloseCalls records how many times Close was called.
	CloseCalls int

	open   bool
	onData func([]byte)
	onStop func(error)
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, onData func([]byte), onStop func(error)) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.OpenCalls
	s.OpenCalls++

	err := s.OpenError
	if idx < len(s.OpenErrors) {
		err = s.OpenErrors[idx]
	}
	if err != nil {
		return audio.Format{}, err
	}

	s.open = true
	s.onData = onData
	s.onStop = onStop
	return s.FormatResult, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.open = false
	s.onData = nil
	s.onStop = nil
	return s.CloseError
}

// IsOpen reports whether the source is currently open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// OpenCallCount returns OpenCalls. Thread-safe.
func (s *Source) OpenCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCalls
}

// SetFormat changes the format returned by subsequent Open calls.
func (s *Source) SetFormat(f audio.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FormatResult = f
}

// Emit delivers pcm through the data callback as the device thread would.
// It reports whether the source was open.
func (s *Source) Emit(pcm []byte) bool {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(pcm)
	return true
}

// Fail simulates the device stopping on its own with err. The source is
// marked closed and the stop callback is invoked.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	fn := s.onStop
	s.open = false
	s.onData = nil
	s.onStop = nil
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

var _ audio.Source = (*Source)(nil)
