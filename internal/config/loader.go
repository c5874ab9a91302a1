package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram", "whisper", "whisper-native"},
	"transcriber": {"whisper", "whisper-native", "openai"},
}

// LoadEnv loads KEY=value pairs from the given dotenv files into the
// process environment without overriding variables that are already set.
// Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
		slog.Debug("config: loaded env file", "path", f)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are replaced from the environment before decoding, so
// secrets can stay in a .env file loaded with [LoadEnv].
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok {
			slog.Warn("config: referenced environment variable is not set", "var", key)
		}
		return v
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Ambient
	a := cfg.Ambient
	if a.Mode != "" && !a.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("ambient.mode %q is invalid; valid values: batch, streaming", a.Mode))
	}
	if err := a.Phrases().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ambient: %w", err))
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [0, 2]", c.Channels))
	}
	if c.FrameMs < 0 || c.MaxRestarts < 0 || c.QueueFrames < 0 || c.RestartBackoff < 0 {
		errs = append(errs, errors.New("capture: frame_ms, queue_frames, max_restarts and restart_backoff must not be negative"))
	}

	// Recorder
	r := cfg.Recorder
	if r.ChunkDuration < 0 || r.BufferDuration < 0 || r.MinDuration < 0 || r.MinFrames < 0 {
		errs = append(errs, errors.New("recorder: durations and min_frames must not be negative"))
	}
	if r.ChunkDuration > 0 && r.MinDuration > r.ChunkDuration {
		errs = append(errs, fmt.Errorf("recorder.min_duration %s exceeds chunk_duration %s", r.MinDuration, r.ChunkDuration))
	}
	if r.ChunkDuration > 0 && r.BufferDuration > 0 && r.BufferDuration < r.ChunkDuration {
		errs = append(errs, fmt.Errorf("recorder.buffer_duration %s is shorter than chunk_duration %s", r.BufferDuration, r.ChunkDuration))
	}

	// Providers
	p := cfg.Providers
	switch a.EffectiveMode() {
	case ModeStreaming:
		if p.STT.Name == "" {
			errs = append(errs, errors.New("ambient.mode streaming requires providers.stt"))
		}
	case ModeBatch:
		if p.Transcriber.Name == "" {
			errs = append(errs, errors.New("ambient.mode batch requires providers.transcriber"))
		}
	}
	validateProviderName("stt", p.STT.Name)
	validateProviderName("transcriber", p.Transcriber.Name)
	for i, fb := range p.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range p.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("transcriber", fb.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
