// Package stt defines the contract between the ambient pipeline and
// speech-to-text engines.
//
// Two shapes of engine are supported:
//
//   - [Provider] opens a persistent streaming session ([SessionHandle]) that
//     accepts small PCM packets and emits hypothesis and final transcripts,
//     plus out-of-band speech activity and error signals, on one ordered
//     [Event] channel.
//   - [Transcriber] converts one finalized audio chunk into text per call and
//     honours a [Priority] hint so that ambient requests never starve
//     user-initiated ones.
//
// Engines may additionally implement [Pinger] to let callers verify
// connectivity before the first request, and [MemoryReporter] to report the
// memory they hold resident.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by [SessionHandle.SendAudio] after the session
// was closed or lost.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The ambient pipeline always
	// sends 16000.
	SampleRate int

	// Channels is the number of interleaved channels; 1 for the ambient
	// pipeline.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the engine choose.
	Language string

	// Keywords are vocabulary hints, typically the words of the wake, end and
	// cancel phrases.
	Keywords []KeywordBoost
}

// SessionHandle is an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers little-endian int16 PCM in the format agreed in
	// StreamConfig. It returns [ErrSessionClosed] (possibly wrapped) once the
	// session has ended.
	SendAudio(chunk []byte) error

	// Events returns the channel on which transcripts and signals are
	// delivered in the order the engine produced them. The channel is closed
	// when the session ends, whether through Close or because the engine
	// connection was lost.
	Events() <-chan Event

	// Close terminates the session and releases its resources. The Events
	// channel is closed once Close returns. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new session. Returns an error if the engine cannot
	// be reached or rejects the configuration.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts the audio described by req to text. An empty
	// result text is not an error.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Pinger is implemented by engines that can check connectivity without
// transcribing anything.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryReporter is implemented by engines that keep a model resident in
// process memory.
type MemoryReporter interface {
	// MemoryEstimate returns the approximate resident size in bytes.
	MemoryEstimate() int64
}
