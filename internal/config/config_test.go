package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/pkg/provider/stt"
	"github.com/MrWong99/ambient/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: info

ambient:
  wake_phrase: hey talkie
  end_phrase: that's it
  cancel_phrase: never mind
  locale: en-US
  mode: batch
  max_distance: 2

capture:
  sample_rate: 48000
  channels: 2
  frame_ms: 20
  queue_frames: 64
  max_restarts: 5
  restart_backoff: 250ms

recorder:
  chunk_duration: 4s
  buffer_duration: 12s
  min_duration: 500ms
  min_frames: 3

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
    options:
      endpointing: 300
  transcriber:
    name: whisper
    base_url: http://localhost:8080
  transcriber_fallbacks:
    - name: openai
      api_key: sk-test
      options:
        timeout: 15s
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func wantErrContaining(t *testing.T, yaml string, substrs ...string) {
	t.Helper()
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, s := range substrs {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error %q does not mention %q", err, s)
		}
	}
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Ambient.EffectiveMode() != config.ModeBatch {
		t.Errorf("mode: got %q", cfg.Ambient.EffectiveMode())
	}
	if cfg.Capture.RestartBackoff != 250*time.Millisecond {
		t.Errorf("restart_backoff: got %v", cfg.Capture.RestartBackoff)
	}
	if cfg.Recorder.ChunkDuration != 4*time.Second || cfg.Recorder.BufferDuration != 12*time.Second {
		t.Errorf("recorder: got %+v", cfg.Recorder)
	}
	if cfg.Providers.STT.Model != "nova-2" {
		t.Errorf("stt.model: got %q", cfg.Providers.STT.Model)
	}
	if got := cfg.Providers.STT.OptInt("endpointing"); got != 300 {
		t.Errorf("stt endpointing option: got %d", got)
	}
	if len(cfg.Providers.TranscriberFallbacks) != 1 || cfg.Providers.TranscriberFallbacks[0].Name != "openai" {
		t.Fatalf("fallbacks: got %+v", cfg.Providers.TranscriberFallbacks)
	}
	d, err := cfg.Providers.TranscriberFallbacks[0].OptDuration("timeout")
	if err != nil || d != 15*time.Second {
		t.Errorf("fallback timeout: got %v, %v", d, err)
	}

	p := cfg.Ambient.Phrases()
	if p.WakePhrase != "hey talkie" || p.MaxDistance != 2 {
		t.Errorf("phrases: got %+v", p)
	}
}

func TestLoadFromReader_DefaultsApply(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, `
providers:
  transcriber:
    name: whisper
`)
	if cfg.Ambient.EffectiveMode() != config.ModeBatch {
		t.Errorf("default mode: got %q", cfg.Ambient.EffectiveMode())
	}
	want := config.AmbientConfig{}.Phrases()
	if got := cfg.Ambient.Phrases(); got != want {
		t.Errorf("phrases: got %+v, want %+v", got, want)
	}
	if want.WakePhrase != "hey talkie" || want.MaxDistance != 3 {
		t.Errorf("unexpected defaults %+v", want)
	}
}

func TestLoadFromReader_ZeroMaxDistanceDisablesFuzzy(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, `
ambient:
  max_distance: 0
providers:
  transcriber:
    name: whisper
`)
	if got := cfg.Ambient.Phrases().MaxDistance; got >= 0 {
		t.Errorf("MaxDistance: got %d, want negative (literal variants only)", got)
	}
}

func TestLoadFromReader_ExpandsEnvironment(t *testing.T) {
	t.Setenv("AMBIENT_TEST_DG_KEY", "dg-secret")

	cfg := mustLoad(t, `
ambient:
  mode: streaming
providers:
  stt:
    name: deepgram
    api_key: ${AMBIENT_TEST_DG_KEY}
`)
	if cfg.Providers.STT.APIKey != "dg-secret" {
		t.Errorf("api_key: got %q, want dg-secret", cfg.Providers.STT.APIKey)
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "AMBIENT_TEST_DOTENV_KEY"
	t.Setenv(key, "")
	os.Unsetenv(key)

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := config.LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", key, got)
	}

	cfg := mustLoad(t, `
providers:
  transcriber:
    name: openai
    api_key: ${`+key+`}
`)
	if cfg.Providers.Transcriber.APIKey != "from-dotenv" {
		t.Errorf("api_key: got %q", cfg.Providers.Transcriber.APIKey)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
ambient:
  wake_word: hey talkie
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/ambient.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty config needs an engine",
			yaml: ``,
			want: []string{"providers.transcriber"},
		},
		{
			name: "streaming needs stt",
			yaml: `
ambient:
  mode: streaming
providers:
  transcriber:
    name: whisper
`,
			want: []string{"providers.stt"},
		},
		{
			name: "invalid log level",
			yaml: `
server:
  log_level: verbose
providers:
  transcriber:
    name: whisper
`,
			want: []string{"log_level"},
		},
		{
			name: "invalid mode",
			yaml: `
ambient:
  mode: realtime
providers:
  transcriber:
    name: whisper
`,
			want: []string{"ambient.mode"},
		},
		{
			name: "duplicate phrases",
			yaml: `
ambient:
  wake_phrase: "Hey  Talkie"
  end_phrase: hey talkie
providers:
  transcriber:
    name: whisper
`,
			want: []string{"duplicates"},
		},
		{
			name: "negative max distance",
			yaml: `
ambient:
  max_distance: -1
providers:
  transcriber:
    name: whisper
`,
			want: []string{"max"},
		},
		{
			name: "tls needs both files",
			yaml: `
server:
  tls:
    cert_file: cert.pem
providers:
  transcriber:
    name: whisper
`,
			want: []string{"server.tls"},
		},
		{
			name: "capture channels out of range",
			yaml: `
capture:
  channels: 6
providers:
  transcriber:
    name: whisper
`,
			want: []string{"capture.channels"},
		},
		{
			name: "min duration exceeds chunk",
			yaml: `
recorder:
  chunk_duration: 2s
  min_duration: 3s
providers:
  transcriber:
    name: whisper
`,
			want: []string{"recorder.min_duration"},
		},
		{
			name: "buffer shorter than chunk",
			yaml: `
recorder:
  chunk_duration: 4s
  buffer_duration: 2s
providers:
  transcriber:
    name: whisper
`,
			want: []string{"recorder.buffer_duration"},
		},
		{
			name: "fallback without name",
			yaml: `
providers:
  transcriber:
    name: whisper
  transcriber_fallbacks:
    - api_key: sk-test
`,
			want: []string{"transcriber_fallbacks[0]"},
		},
		{
			name: "stt fallback without name",
			yaml: `
ambient:
  mode: streaming
providers:
  stt:
    name: deepgram
  stt_fallbacks:
    - model: base
`,
			want: []string{"stt_fallbacks[0]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wantErrContaining(t, tt.yaml, tt.want...)
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	wantErrContaining(t, `
server:
  log_level: loud
ambient:
  mode: realtime
capture:
  channels: -1
`, "log_level", "ambient.mode", "capture.channels")
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"stt", "transcriber"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known provider names for %q", kind)
		}
	}

	// Unknown names only warn.
	mustLoad(t, `
providers:
  transcriber:
    name: my-custom-engine
`)
}

func TestOptDuration_Invalid(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Name: "whisper", Options: map[string]any{"timeout": "soon"}}
	if _, err := e.OptDuration("timeout"); err == nil {
		t.Fatal("expected parse error")
	}
	if d, err := e.OptDuration("missing"); err != nil || d != 0 {
		t.Errorf("missing option: got %v, %v", d, err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTranscriber: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotEntry config.ProviderEntry
	r.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &mock.Provider{}, nil
	})
	r.RegisterTranscriber("fake", func(config.ProviderEntry) (stt.Transcriber, error) {
		return &mock.Transcriber{}, nil
	})

	p, err := r.CreateSTT(config.ProviderEntry{Name: "fake", APIKey: "k"})
	if err != nil || p == nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if tr, err := r.CreateTranscriber(config.ProviderEntry{Name: "fake"}); err != nil || tr == nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := config.NewRegistry()
	r.RegisterTranscriber("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return nil, boom
	})
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.Level(); got != want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", in, got, want)
		}
	}
}
