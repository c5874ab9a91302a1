package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AmbientChanged is set when the phrases, locale, mode, or match
	// distance changed. Applying it restarts the active listening period.
	AmbientChanged bool

	// ProvidersChanged is set when any engine entry changed. Applying it
	// rebuilds the provider.
	ProvidersChanged bool

	// CaptureChanged and RecorderChanged require reopening the device or
	// the recorder.
	CaptureChanged  bool
	RecorderChanged bool
}

// RequiresRestart reports whether the running provider must be rebuilt or
// restarted to apply d.
func (d ConfigDiff) RequiresRestart() bool {
	return d.AmbientChanged || d.ProvidersChanged || d.CaptureChanged || d.RecorderChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare effective values so that spelling out a default is not a change.
	if old.Ambient.Phrases() != new.Ambient.Phrases() ||
		old.Ambient.EffectiveMode() != new.Ambient.EffectiveMode() {
		d.AmbientChanged = true
	}

	d.ProvidersChanged = !entryEqual(old.Providers.STT, new.Providers.STT) ||
		!slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, entryEqual) ||
		!entryEqual(old.Providers.Transcriber, new.Providers.Transcriber) ||
		!slices.EqualFunc(old.Providers.TranscriberFallbacks, new.Providers.TranscriberFallbacks, entryEqual)

	d.CaptureChanged = old.Capture != new.Capture
	d.RecorderChanged = old.Recorder != new.Recorder

	return d
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
