// Package config provides the configuration schema, loader, and provider
// registry for the ambient listener.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/ambient/internal/ambient"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mode selects how audio reaches the speech engine.
type Mode string

const (
	// ModeBatch records rolling chunks and transcribes each one.
	ModeBatch Mode = "batch"
	// ModeStreaming resamples audio into packets for a live engine session.
	ModeStreaming Mode = "streaming"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeBatch || m == ModeStreaming
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ambient   AmbientConfig   `yaml:"ambient"`
	Capture   CaptureConfig   `yaml:"capture"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the HTTP listener for health and metrics, and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AmbientConfig holds the phrases and recognition settings. Empty phrases
// fall back to [ambient.DefaultConfig].
type AmbientConfig struct {
	WakePhrase   string `yaml:"wake_phrase"`
	EndPhrase    string `yaml:"end_phrase"`
	CancelPhrase string `yaml:"cancel_phrase"`

	// Locale is a BCP-47 tag such as "en-US".
	Locale string `yaml:"locale"`

	// Mode is batch or streaming. Default: batch.
	Mode Mode `yaml:"mode"`

	// MaxDistance bounds the fuzzy phrase match. Nil keeps the default; 0
	// or a negative value allows literal variants only.
	MaxDistance *int `yaml:"max_distance"`
}

// Phrases returns the provider configuration with defaults applied.
func (a AmbientConfig) Phrases() ambient.Config {
	cfg := ambient.DefaultConfig()
	if a.WakePhrase != "" {
		cfg.WakePhrase = a.WakePhrase
	}
	if a.EndPhrase != "" {
		cfg.EndPhrase = a.EndPhrase
	}
	if a.CancelPhrase != "" {
		cfg.CancelPhrase = a.CancelPhrase
	}
	if a.Locale != "" {
		cfg.Locale = a.Locale
	}
	if a.MaxDistance != nil {
		cfg.MaxDistance = *a.MaxDistance
		if cfg.MaxDistance == 0 {
			// Zero means default in ambient.Config.
			cfg.MaxDistance = -1
		}
	}
	return cfg
}

// EffectiveMode returns Mode, defaulting to batch.
func (a AmbientConfig) EffectiveMode() Mode {
	if a.Mode == "" {
		return ModeBatch
	}
	return a.Mode
}

// CaptureConfig tunes the microphone capture. Zero values keep the device
// or package defaults.
type CaptureConfig struct {
	// SampleRate and Channels request a device format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FrameMs is the device period in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// QueueFrames bounds the hand-off queue off the device thread.
	QueueFrames int `yaml:"queue_frames"`

	// MaxRestarts and RestartBackoff bound the reopen attempts after a
	// device loss.
	MaxRestarts    int           `yaml:"max_restarts"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// RecorderConfig tunes the rolling chunk recorder used in batch mode.
type RecorderConfig struct {
	// Dir holds transient chunk files. Empty uses a temporary directory.
	Dir string `yaml:"dir"`

	ChunkDuration  time.Duration `yaml:"chunk_duration"`
	BufferDuration time.Duration `yaml:"buffer_duration"`
	MinDuration    time.Duration `yaml:"min_duration"`
	MinFrames      int           `yaml:"min_frames"`
}

// ProvidersConfig selects the speech engines. Each entry names a
// constructor registered in the [Registry].
type ProvidersConfig struct {
	// STT is the streaming engine used in streaming mode.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails to open a session.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Transcriber is the batch engine used in batch mode.
	Transcriber ProviderEntry `yaml:"transcriber"`

	// TranscriberFallbacks are tried in order when Transcriber fails.
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OptString returns Options[key] as a string, or "".
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns Options[key] as an int, or 0. YAML integers and whole
// floats are accepted.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	}
	return 0
}

// OptDuration returns Options[key] parsed as a duration ("500ms"), or 0.
func (e ProviderEntry) OptDuration(key string) (time.Duration, error) {
	s := e.OptString(key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s option %q: %w", e.Name, key, err)
	}
	return d, nil
}
