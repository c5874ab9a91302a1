// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var (
	_ stt.Provider       = (*NativeProvider)(nil)
	_ stt.Transcriber    = (*NativeProvider)(nil)
	_ stt.MemoryReporter = (*NativeProvider)(nil)
)

// errModelClosed is returned by calls made after Close.
var errModelClosed = errors.New("whisper: model closed")

// NativeProvider implements stt.Transcriber and stt.Provider using the
// whisper.cpp Go bindings (CGO), eliminating HTTP overhead entirely. The model
// is loaded once at startup and shared across all callers.
//
// Inference runs one request at a time. Waiting requests are admitted by
// [stt.Priority], so ambient (low priority) chunks yield to user-initiated
// transcription.
type NativeProvider struct {
	model     whisperlib.Model
	modelSize int64
	language  string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	gate gate

	mu     sync.RWMutex
	closed bool
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the default sample rate in Hz for streaming
// sessions. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a flush of the accumulated speech buffer. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced flush. Defaults to 10 000 ms (10 s).
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxBufferDurationMs = ms }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:               model,
		modelSize:           info.Size(),
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// MemoryEstimate returns the size of the loaded model file, which dominates
// the resident memory of the engine.
func (p *NativeProvider) MemoryEstimate() int64 {
	return p.modelSize
}

// Close releases the whisper model. In-flight inference finishes first.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs inference on the request audio once the priority gate
// admits it.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	pcm, f, err := req.PCM()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.run(ctx, req.Priority, pcm, f, lang)
	if err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: text, Language: lang}, nil
}

// StartStream opens a new transcription session. It respects cfg.SampleRate,
// cfg.Channels, and cfg.Language; if those are zero/empty the provider-level
// defaults apply. Session inference runs at normal priority.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	return startSession(ctx, segmenterConfig{
		format:              streamFormat(cfg, p.sampleRate),
		language:            lang,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		infer: func(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error) {
			return p.run(ctx, stt.PriorityNormal, pcm, f, language)
		},
	}), nil
}

func (p *NativeProvider) run(ctx context.Context, prio stt.Priority, pcm []byte, f audio.Format, language string) (string, error) {
	if err := p.gate.acquire(ctx, prio); err != nil {
		return "", fmt.Errorf("whisper: wait for model: %w", err)
	}
	defer p.gate.release()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", errModelClosed
	}
	return p.infer(pcm, f, language)
}

// infer converts the PCM audio to float32 mono, runs whisper.cpp inference
// using a fresh context, and returns the concatenated text.
func (p *NativeProvider) infer(pcm []byte, f audio.Format, language string) (string, error) {
	samples := audio.PCM16ToMonoFloat(pcm, f.Channels)

	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
