package main

import (
	"errors"
	"testing"

	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/internal/resilience"
	"github.com/MrWong99/ambient/pkg/provider/stt"
	"github.com/MrWong99/ambient/pkg/provider/stt/mock"
	"github.com/MrWong99/ambient/pkg/provider/stt/openai"
	"github.com/MrWong99/ambient/pkg/provider/stt/whisper"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &mock.Provider{}, nil
	})
	reg.RegisterTranscriber("mock", func(config.ProviderEntry) (stt.Transcriber, error) {
		return &mock.Transcriber{}, nil
	})
	reg.RegisterTranscriber("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return nil, errors.New("broken")
	})
	return reg
}

func TestBuildEngines_Batch(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Transcriber = config.ProviderEntry{Name: "mock"}
	e, err := buildEngines(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildEngines: %v", err)
	}
	if _, ok := e.Transcriber.(*mock.Transcriber); !ok {
		t.Errorf("Transcriber = %T, want mock", e.Transcriber)
	}
	if e.TranscriberName != "mock" || e.Stream != nil {
		t.Errorf("engines = %+v", e)
	}
}

func TestBuildEngines_BatchWithFallbacks(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Transcriber = config.ProviderEntry{Name: "mock"}
	cfg.Providers.TranscriberFallbacks = []config.ProviderEntry{{Name: "mock"}}
	e, err := buildEngines(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildEngines: %v", err)
	}
	fb, ok := e.Transcriber.(*resilience.TranscriberFallback)
	if !ok {
		t.Fatalf("Transcriber = %T, want TranscriberFallback", e.Transcriber)
	}
	if n := len(fb.Status()); n != 2 {
		t.Errorf("chain length = %d, want 2", n)
	}
}

func TestBuildEngines_FallbackError(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Transcriber = config.ProviderEntry{Name: "mock"}
	cfg.Providers.TranscriberFallbacks = []config.ProviderEntry{{Name: "broken"}}
	if _, err := buildEngines(cfg, mockRegistry()); err == nil {
		t.Fatal("expected error for broken fallback")
	}
}

func TestBuildEngines_Streaming(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Ambient: config.AmbientConfig{Mode: config.ModeStreaming}}
	cfg.Providers.STT = config.ProviderEntry{Name: "mock"}
	e, err := buildEngines(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildEngines: %v", err)
	}
	if _, ok := e.Stream.(*mock.Provider); !ok {
		t.Errorf("Stream = %T, want mock", e.Stream)
	}

	cfg.Providers.STTFallbacks = []config.ProviderEntry{{Name: "mock"}}
	e, err = buildEngines(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildEngines with fallbacks: %v", err)
	}
	if _, ok := e.Stream.(*resilience.StreamFallback); !ok {
		t.Errorf("Stream = %T, want StreamFallback", e.Stream)
	}
}

func TestBuildEngines_Unregistered(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.Transcriber = config.ProviderEntry{Name: "nope"}
	_, err := buildEngines(cfg, mockRegistry())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tr, err := reg.CreateTranscriber(config.ProviderEntry{
		Name:   "openai",
		APIKey: "sk-test",
		Options: map[string]any{
			"timeout":     "10s",
			"max_retries": 0,
		},
	})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if o, ok := tr.(*openai.Transcriber); !ok || o.ModelID() != openai.DefaultModel {
		t.Errorf("openai transcriber = %T", tr)
	}

	if _, err := reg.CreateTranscriber(config.ProviderEntry{
		Name:    "openai",
		APIKey:  "sk-test",
		Options: map[string]any{"timeout": "soon"},
	}); err == nil {
		t.Error("expected error for invalid timeout")
	}

	tr, err = reg.CreateTranscriber(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"})
	if err != nil {
		t.Fatalf("whisper: %v", err)
	}
	if _, ok := tr.(*whisper.Provider); !ok {
		t.Errorf("whisper transcriber = %T", tr)
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}); err != nil {
		t.Errorf("whisper stt: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil {
		t.Error("expected error for deepgram without API key")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{
		Name:    "deepgram",
		APIKey:  "dg-test",
		Options: map[string]any{"utterance_end": "1500ms"},
	}); err != nil {
		t.Errorf("deepgram: %v", err)
	}
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "whisper-native"}); err == nil {
		t.Error("expected error for whisper-native without a model path")
	}
}
