package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/ambient/internal/app"
	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/internal/resilience"
	"github.com/MrWong99/ambient/pkg/provider/stt"
	"github.com/MrWong99/ambient/pkg/provider/stt/deepgram"
	"github.com/MrWong99/ambient/pkg/provider/stt/openai"
	"github.com/MrWong99/ambient/pkg/provider/stt/whisper"
)

// breakerConfig is shared by every engine fallback chain.
var breakerConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("engine circuit changed", "engine", name, "from", from.String(), "to", to.String())
		},
	},
}

// registerBuiltinProviders wires all built-in engine factories into reg.
// Each factory receives a config.ProviderEntry and constructs the engine
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Streaming ─────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		d, err := entry.OptDuration("utterance_end")
		if err != nil {
			return nil, err
		}
		if d > 0 {
			opts = append(opts, deepgram.WithUtteranceEnd(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return newWhisper(entry)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		return newWhisperNative(entry)
	})

	// ── Batch ─────────────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisper(entry)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisperNative(entry)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if prompt := entry.OptString("prompt"); prompt != "" {
			opts = append(opts, openai.WithPrompt(prompt))
		}
		d, err := entry.OptDuration("timeout")
		if err != nil {
			return nil, err
		}
		if d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if _, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, openai.WithMaxRetries(entry.OptInt("max_retries")))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// newWhisper builds a whisper.cpp HTTP server client. It serves both as a
// streaming engine and as a batch transcriber.
func newWhisper(entry config.ProviderEntry) (*whisper.Provider, error) {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := entry.OptString("language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if ms := entry.OptInt("silence_threshold_ms"); ms > 0 {
		opts = append(opts, whisper.WithSilenceThresholdMs(ms))
	}
	if ms := entry.OptInt("max_buffer_ms"); ms > 0 {
		opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
	}
	if path := entry.OptString("health_path"); path != "" {
		opts = append(opts, whisper.WithHealthPath(path))
	}
	return whisper.New(entry.BaseURL, opts...)
}

// newWhisperNative loads a whisper.cpp model in process. Model holds the
// model path; options.model_path is accepted as well.
func newWhisperNative(entry config.ProviderEntry) (*whisper.NativeProvider, error) {
	modelPath := entry.Model
	if modelPath == "" {
		modelPath = entry.OptString("model_path")
	}
	var opts []whisper.NativeOption
	if lang := entry.OptString("language"); lang != "" {
		opts = append(opts, whisper.WithNativeLanguage(lang))
	}
	if ms := entry.OptInt("silence_threshold_ms"); ms > 0 {
		opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
	}
	if ms := entry.OptInt("max_buffer_ms"); ms > 0 {
		opts = append(opts, whisper.WithNativeMaxBufferDurationMs(ms))
	}
	return whisper.NewNative(modelPath, opts...)
}

// buildEngines instantiates the engines the configured mode needs, wrapping
// them in a fallback chain when fallbacks are configured.
func buildEngines(cfg *config.Config, reg *config.Registry) (*app.Engines, error) {
	p := cfg.Providers
	if cfg.Ambient.EffectiveMode() == config.ModeStreaming {
		primary, err := reg.CreateSTT(p.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt engine %q: %w", p.STT.Name, err)
		}
		slog.Info("engine created", "kind", "stt", "name", p.STT.Name)
		if len(p.STTFallbacks) == 0 {
			return &app.Engines{Stream: primary, StreamName: p.STT.Name}, nil
		}

		fb := resilience.NewStreamFallback(primary, p.STT.Name, breakerConfig)
		for _, e := range p.STTFallbacks {
			s, err := reg.CreateSTT(e)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("create stt fallback %q: %w", e.Name, err), fb.Close())
			}
			fb.AddFallback(e.Name, s)
			slog.Info("engine created", "kind", "stt", "name", e.Name, "fallback", true)
		}
		return &app.Engines{Stream: fb, StreamName: p.STT.Name}, nil
	}

	primary, err := reg.CreateTranscriber(p.Transcriber)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", p.Transcriber.Name, err)
	}
	slog.Info("engine created", "kind", "transcriber", "name", p.Transcriber.Name)
	if len(p.TranscriberFallbacks) == 0 {
		return &app.Engines{Transcriber: primary, TranscriberName: p.Transcriber.Name}, nil
	}

	fb := resilience.NewTranscriberFallback(primary, p.Transcriber.Name, breakerConfig)
	for _, e := range p.TranscriberFallbacks {
		t, err := reg.CreateTranscriber(e)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create transcriber fallback %q: %w", e.Name, err), fb.Close())
		}
		fb.AddFallback(e.Name, t)
		slog.Info("engine created", "kind", "transcriber", "name", e.Name, "fallback", true)
	}
	return &app.Engines{Transcriber: fb, TranscriberName: p.Transcriber.Name}, nil
}
