package ambient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/ambient/internal/observe"
	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// StreamSampleRate is the packet rate a [StreamingProvider] sends to its
// engine.
const StreamSampleRate = 16000

// keywordBoost is the recognition boost given to every phrase word.
const keywordBoost = 2

var _ Provider = (*StreamingProvider)(nil)

// StreamingProvider keeps a single engine session open for the whole
// listening period. Wake, end and cancel phrases are detected on every
// transcript, hypotheses included, while only final transcripts are added
// to the command.
//
// If the engine closes the session on its own the provider moves to
// [StateError] and emits a fatal error event.
//
// All methods are safe for concurrent use.
type StreamingProvider struct {
	core
	engine stt.Provider

	// handle is guarded by core.mu.
	handle stt.SessionHandle

	wg sync.WaitGroup
}

// NewStreaming returns an idle StreamingProvider backed by engine.
func NewStreaming(engine stt.Provider, opts ...Option) (*StreamingProvider, error) {
	if engine == nil {
		return nil, errors.New("ambient: streaming: stt provider is required")
	}
	p := &StreamingProvider{engine: engine}
	p.setup(buildOptions(opts, "streaming"))
	return p, nil
}

// Start opens the engine session.
func (p *StreamingProvider) Start(ctx context.Context, cfg Config) error {
	connectCtx, gen, ok, err := p.beginStart(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ambient: start: %w", err)
	}
	if !ok {
		return nil
	}
	defer p.connecting.Done()

	spanCtx, span := observe.StartEngineSpan(connectCtx, p.opts.name, "connect")
	handle, err := p.engine.StartStream(spanCtx, stt.StreamConfig{
		SampleRate: StreamSampleRate,
		Channels:   1,
		Language:   cfg.Locale,
		Keywords:   keywords(cfg),
	})
	observe.EndSpan(span, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		if handle != nil {
			_ = handle.Close()
		}
		return nil
	}
	if err != nil {
		p.failStartLocked(err)
		return fmt.Errorf("ambient: start: connect %s: %w", p.opts.name, err)
	}
	if p.opts.metrics != nil {
		p.opts.metrics.RecordProviderRequest(ctx, p.opts.name, "stt", "ok")
	}

	p.handle = handle
	p.listenLocked(cfg, memoryEstimate(p.engine))

	p.wg.Add(1)
	go p.read(gen, handle)
	return nil
}

// Ingest converts pkt to PCM16 and sends it to the engine session. Packets
// are ignored unless the provider is listening or in a command.
func (p *StreamingProvider) Ingest(ctx context.Context, pkt audio.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	handle, gen := p.handle, p.gen
	active := p.state.Active()
	p.mu.Unlock()
	if !active || handle == nil {
		return nil
	}
	if pkt.SampleRate != 0 && pkt.SampleRate != StreamSampleRate {
		return fmt.Errorf("ambient: ingest: packet rate %d Hz, want %d Hz", pkt.SampleRate, StreamSampleRate)
	}

	err := handle.SendAudio(audio.FloatToPCM16(pkt.Samples))
	if err == nil || errors.Is(err, stt.ErrSessionClosed) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentLocked(gen) {
		p.engineErrorLocked("send", fmt.Errorf("send audio: %w", err))
	}
	return nil
}

// Stop closes the engine session and waits for its events to drain.
func (p *StreamingProvider) Stop() error {
	if _, ok := p.beginStop(); !ok {
		return nil
	}
	p.mu.Lock()
	handle := p.handle
	p.handle = nil
	p.mu.Unlock()

	var err error
	if handle != nil {
		if cerr := handle.Close(); cerr != nil {
			err = fmt.Errorf("ambient: stop: close session: %w", cerr)
		}
	}
	p.wg.Wait()
	p.finishStop()
	return err
}

// Close stops the provider and closes the event channel. Start returns
// [ErrClosed] afterwards.
func (p *StreamingProvider) Close() error {
	err := p.Stop()
	p.close()
	return err
}

func (p *StreamingProvider) read(gen uint64, handle stt.SessionHandle) {
	defer p.wg.Done()
	for ev := range handle.Events() {
		p.handleEvent(gen, ev)
	}

	p.mu.Lock()
	lost := p.currentLocked(gen)
	if lost {
		p.handle = nil
		p.failLocked("speech engine session closed unexpectedly")
		if p.opts.metrics != nil {
			p.opts.metrics.RecordProviderError(context.Background(), p.opts.name, "session")
		}
	}
	p.mu.Unlock()
	if lost {
		_ = handle.Close()
	}
}

func (p *StreamingProvider) handleEvent(gen uint64, ev stt.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.currentLocked(gen) {
		return
	}

	switch ev.Kind {
	case stt.EventSpeechStarted:
		p.events.emit(SpeechStartEvent())
	case stt.EventSpeechEnded:
		p.events.emit(SpeechEndEvent(ev.Silence))
	case stt.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("unknown engine error")
		}
		p.engineErrorLocked("stream", err)
	case stt.EventTranscript:
		t := ev.Transcript
		text := strings.TrimSpace(t.Text)
		if text != "" {
			p.events.emit(TranscriptEvent(text, t.Confidence, t.IsFinal))
		}
		p.applyLocked(p.session.streaming(text, t.IsFinal, p.opts.now()))
	}
}

func keywords(cfg Config) []stt.KeywordBoost {
	words := cfg.detector().Keywords()
	out := make([]stt.KeywordBoost, 0, len(words))
	for _, w := range words {
		out = append(out, stt.KeywordBoost{Keyword: w, Boost: keywordBoost})
	}
	return out
}
