package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ApplyFunc applies a changed config. d compares next against the config
// that was last applied successfully. Returning an error keeps that config
// as the baseline for the next change.
type ApplyFunc func(next *Config, d ConfigDiff) error

// Watcher polls a config file and hands validated changes to an [ApplyFunc].
//
// Editors often save in several writes, so new content must read the same on
// two consecutive polls before it is parsed. Invalid files are logged and
// skipped. Edits that do not change any effective setting (comments,
// reordering) update the baseline without calling apply.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	applied [sha256.Size]byte // hash of the last file handled
	pending [sha256.Size]byte // hash seen on the previous poll, awaiting settle

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. The default is [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a watcher whose baseline is that
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.applied = sha256.Sum256(data)
	w.pending = w.applied
	return w, nil
}

// Current returns the config last applied successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled or [Watcher.Stop] is called. It returns
// nil so it can share an errgroup with the pipeline.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// Stop ends a running [Watcher.Run]. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config: watcher cannot read file", "path", w.path, "err", err)
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	settled := sum == w.pending
	w.pending = sum
	if sum == w.applied || !settled {
		w.mu.Unlock()
		return
	}
	// Handled from here on, whatever the outcome, so a bad file is
	// reported once rather than on every poll.
	w.applied = sum
	old := w.current
	w.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.log.Warn("config: ignoring invalid change", "path", w.path, "err", err)
		return
	}
	d := Diff(old, next)
	if !d.LogLevelChanged && !d.RequiresRestart() {
		w.log.Debug("config: change has no effect", "path", w.path)
		w.setCurrent(next)
		return
	}

	// Outside the lock so apply may call Current.
	if w.apply != nil {
		if err := w.apply(next, d); err != nil {
			w.log.Error("config: reload failed", "path", w.path, "err", err)
			return
		}
	}
	w.setCurrent(next)
	w.log.Info("config: reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"ambient", d.AmbientChanged,
		"providers", d.ProvidersChanged,
		"capture", d.CaptureChanged,
		"recorder", d.RecorderChanged,
	)
}

func (w *Watcher) setCurrent(cfg *Config) {
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
}
