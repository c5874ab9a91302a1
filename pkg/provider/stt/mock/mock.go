// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig, and Session to feed controlled events and inspect which audio
// chunks were delivered. Use Transcriber for batch engines.
//
// Example:
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(mock.Final("hey talkie"))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new Session with a buffered event channel.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	last stt.SessionHandle
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	p.last = p.Session
	if p.last == nil {
		p.last = NewSession(16)
	}
	return p.last, nil
}

// LastSession returns the handle returned by the most recent successful
// StartStream call, or nil.
func (p *Provider) LastSession() stt.SessionHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle.
//
// Tests push events with Emit and simulate engine connection loss with Lose.
// Close closes the event channel like a real session does.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	events chan stt.Event
	done   chan struct{}
	once   sync.Once

	emitMu sync.Mutex
	closed bool
}

// NewSession returns a Session whose event channel holds up to buf events.
func NewSession(buf int) *Session {
	return &Session{
		events: make(chan stt.Event, buf),
		done:   make(chan struct{}),
	}
}

// SendAudio records the call and returns SendAudioErr, or
// [stt.ErrSessionClosed] after Close or Lose.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns the event channel.
func (s *Session) Events() <-chan stt.Event {
	return s.events
}

// Emit delivers ev to the consumer, blocking while the channel is full.
// It reports false when the session ended before ev could be delivered.
func (s *Session) Emit(ev stt.Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Lose simulates the engine dropping the connection: the event channel is
// closed without the consumer calling Close.
func (s *Session) Lose() {
	s.end()
}

// Close records the call, closes the event channel and returns CloseErr on
// the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := s.CloseCallCount == 1
	s.mu.Unlock()
	s.end()
	if first {
		return s.CloseErr
	}
	return nil
}

func (s *Session) end() {
	s.once.Do(func() {
		close(s.done)
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
	})
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// Hypothesis returns a non-final transcript event.
func Hypothesis(text string) stt.Event {
	return stt.Event{Kind: stt.EventTranscript, Transcript: stt.Transcript{Text: text}}
}

// Final returns a final transcript event.
func Final(text string) stt.Event {
	return stt.Event{Kind: stt.EventTranscript, Transcript: stt.Transcript{Text: text, IsFinal: true}}
}

// SpeechStarted returns a speech-start event.
func SpeechStarted() stt.Event {
	return stt.Event{Kind: stt.EventSpeechStarted}
}

// SpeechEnded returns a speech-end event with the given trailing silence.
func SpeechEnded(silence time.Duration) stt.Event {
	return stt.Event{Kind: stt.EventSpeechEnded, Silence: silence}
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Transcriber is a mock implementation of stt.Transcriber, stt.Pinger and
// stt.MemoryReporter.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned by successive Transcribe calls. Once exhausted,
	// Result is returned.
	Results []stt.Result

	// Result is the fallback result.
	Result stt.Result

	// Errors are returned by successive Transcribe calls alongside Results.
	// Once exhausted, Err is returned.
	Errors []error

	// Err is the fallback error.
	Err error

	// Block, when non-nil, makes Transcribe wait until it is closed or
	// receives a value, or the context is cancelled.
	Block chan struct{}

	// PingErr is returned by Ping.
	PingErr error

	// Memory is returned by MemoryEstimate.
	Memory int64

	// Calls records every Transcribe call.
	Calls []TranscribeCall

	// PingCalls counts Ping invocations.
	PingCalls int
}

// Transcribe records the call and returns the next queued result.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Ctx: ctx, Req: req})
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.Result, m.Err
	if len(m.Results) > 0 {
		res, m.Results = m.Results[0], m.Results[1:]
	}
	if len(m.Errors) > 0 {
		err, m.Errors = m.Errors[0], m.Errors[1:]
	}
	return res, err
}

// Ping counts the call and returns PingErr.
func (m *Transcriber) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingCalls++
	return m.PingErr
}

// MemoryEstimate returns Memory.
func (m *Transcriber) MemoryEstimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Memory
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Requests returns a copy of the recorded requests. Thread-safe.
func (m *Transcriber) Requests() []stt.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]stt.Request, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Req
	}
	return out
}

var (
	_ stt.Transcriber    = (*Transcriber)(nil)
	_ stt.Pinger         = (*Transcriber)(nil)
	_ stt.MemoryReporter = (*Transcriber)(nil)
)
