// Package app wires capture, recording, and the ambient provider into a
// running listener.
//
// The App owns the full lifecycle: New builds the pipeline for the
// configured mode, Run starts listening and blocks, and Shutdown tears
// everything down in order. OnSuspend, OnResume, and OnDeviceChanged are the
// explicit lifecycle hooks the host process calls; Reload applies a changed
// configuration by rebuilding the pipeline.
//
// For testing, inject an [audio.Source] with [WithSource] and mock engines
// through [Engines]. When no source is injected, New opens the default
// microphone.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/internal/health"
	"github.com/MrWong99/ambient/internal/observe"
	"github.com/MrWong99/ambient/internal/resilience"
	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// levelInterval is how often the input level and drop counters are sampled
// into metrics.
const levelInterval = time.Second

// ErrShutdown is returned by Reload after Shutdown.
var ErrShutdown = errors.New("app: shut down")

// Engines holds the speech engines for both modes. Only the one matching the
// configured mode is required. Populated by main.go via the config registry.
type Engines struct {
	Transcriber     stt.Transcriber
	TranscriberName string

	Stream     stt.Provider
	StreamName string
}

// Close closes every engine that holds resources.
func (e *Engines) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, v := range []any{e.Transcriber, e.Stream} {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// EngineBuilder creates the engines for a configuration. Reload uses it when
// the provider entries changed.
type EngineBuilder func(*config.Config) (*Engines, error)

// App owns all subsystem lifetimes of the ambient listener.
type App struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	onEvent  func(ambient.Event)
	source   audio.Source
	build    EngineBuilder
	levelVar *slog.LevelVar

	// ctx outlives Run and is cancelled by Shutdown. Chunks and packets are
	// ingested with it.
	ctx    context.Context
	cancel context.CancelFunc

	// fatal receives the capture error once restarts are exhausted.
	fatal chan error

	mu        sync.Mutex
	cfg       *config.Config
	engines   *Engines
	pipe      *pipeline
	running   bool
	suspended bool
	closed    bool

	consumers sync.WaitGroup
	stopOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the audio input instead of opening the default
// microphone.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithEventHandler receives every provider event after it was logged. It is
// called from one goroutine per pipeline and must not block for long.
func WithEventHandler(fn func(ambient.Event)) Option {
	return func(a *App) { a.onEvent = fn }
}

// WithEngineBuilder lets Reload rebuild engines when provider entries change.
// Without it, a changed entry is logged and the current engines are kept.
func WithEngineBuilder(b EngineBuilder) Option {
	return func(a *App) { a.build = b }
}

// WithLevelVar lets Reload apply log level changes.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New builds the pipeline for cfg without starting it. engines must hold the
// engine required by the configured mode. The App takes ownership of engines
// and closes them on Shutdown.
func New(ctx context.Context, cfg *config.Config, engines *Engines, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{
		log:     slog.Default(),
		cfg:     cfg,
		engines: engines,
		fatal:   make(chan error, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	pipe, err := a.newPipeline(cfg, engines)
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipe = pipe
	a.consume(pipe.provider.Events())
	return a, nil
}

// Run starts listening and blocks until ctx is cancelled or capture fails
// for good. A failure to start the provider is returned immediately.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	var err error
	if !a.suspended {
		err = a.startPipeline(a.pipe, a.cfg.Ambient.Phrases())
	}
	mode := a.pipe.mode
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.log.Info("app: listening", "mode", mode, "wake_phrase", a.cfg.Ambient.Phrases().WakePhrase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sampleLevels(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-a.ctx.Done():
			return nil
		case err := <-a.fatal:
			return fmt.Errorf("app: capture: %w", err)
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// captureFailed runs on the capture goroutine once restarts are exhausted.
func (a *App) captureFailed(err error) {
	a.log.Error("app: capture failed", "err", err)
	select {
	case a.fatal <- err:
	default:
	}
}

// consume logs and forwards events until the provider closes the channel.
func (a *App) consume(events <-chan ambient.Event) {
	a.consumers.Add(1)
	go func() {
		defer a.consumers.Done()
		for ev := range events {
			a.logEvent(ev)
			if a.onEvent != nil {
				a.onEvent(ev)
			}
		}
	}()
}

func (a *App) logEvent(ev ambient.Event) {
	switch ev.Type {
	case ambient.EventWakeDetected:
		a.log.Info("app: wake phrase detected", "phrase", ev.Phrase, "text_after", ev.TextAfter)
	case ambient.EventEndDetected:
		a.log.Info("app: command captured", "command", ev.Command)
	case ambient.EventCancelDetected:
		a.log.Info("app: command cancelled")
	case ambient.EventError:
		a.log.Warn("app: provider error", "message", ev.Message, "fatal", ev.Fatal)
	case ambient.EventTranscript:
		a.log.Debug("app: transcript", "text", ev.Text, "final", ev.IsFinal)
	default:
		a.log.Debug("app: event", "type", ev.Type.String())
	}
}

// sampleLevels records the input level and newly dropped frames until ctx
// is done.
func (a *App) sampleLevels(ctx context.Context) {
	t := time.NewTicker(levelInterval)
	defer t.Stop()

	var (
		last    *audio.Capture
		dropped int64
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		a.mu.Lock()
		c := a.pipe.capture
		a.mu.Unlock()
		if c != last {
			last, dropped = c, 0
		}
		a.metrics.InputLevel.Record(ctx, c.Level())
		if n := c.Dropped(); n > dropped {
			a.metrics.FramesDropped.Add(ctx, n-dropped)
			dropped = n
		}
	}
}

// OnSuspend stops listening and releases the device, e.g. when the host
// goes to sleep or the user pauses the assistant.
func (a *App) OnSuspend() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suspended || a.closed {
		return
	}
	a.suspended = true
	if err := a.pipe.halt(); err != nil {
		a.log.Warn("app: suspend", "err", err)
	}
	a.log.Info("app: suspended")
}

// OnResume starts listening again after a suspend. It also restarts a
// provider that ended in the error state.
func (a *App) OnResume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.running {
		a.suspended = false
		return
	}
	failed := a.pipe.provider.State().Kind == ambient.StateError
	if !a.suspended && !failed {
		return
	}
	a.suspended = false
	if failed {
		_ = a.pipe.halt()
	}
	if err := a.startPipeline(a.pipe, a.cfg.Ambient.Phrases()); err != nil {
		a.log.Error("app: resume", "err", err)
		return
	}
	a.log.Info("app: resumed")
}

// OnDeviceChanged reopens the input device, e.g. after the default
// microphone changed.
func (a *App) OnDeviceChanged() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suspended || a.closed {
		return
	}
	a.log.Info("app: input device changed, restarting capture")
	a.pipe.capture.Restart()
}

// Reload applies next. Log level changes apply in place; everything else
// rebuilds the pipeline and restarts listening with the new settings. On
// error the previous pipeline keeps running.
func (a *App) Reload(next *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrShutdown
	}

	d := config.Diff(a.cfg, next)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(next.Server.LogLevel.Level())
		a.log.Info("app: log level changed", "level", next.Server.LogLevel)
	}
	if !d.RequiresRestart() {
		a.cfg = next
		return nil
	}

	engines := a.engines
	if d.ProvidersChanged {
		if a.build == nil {
			a.log.Warn("app: provider settings changed but cannot be rebuilt; keeping current engines")
		} else {
			e, err := a.build(next)
			if err != nil {
				return fmt.Errorf("app: reload: build engines: %w", err)
			}
			engines = e
		}
	}

	pipe, err := a.newPipeline(next, engines)
	if err != nil {
		if engines != a.engines {
			_ = engines.Close()
		}
		return fmt.Errorf("app: reload: %w", err)
	}

	if err := a.pipe.close(); err != nil {
		a.log.Warn("app: reload: close previous pipeline", "err", err)
	}
	if engines != a.engines {
		if err := a.engines.Close(); err != nil {
			a.log.Warn("app: reload: close previous engines", "err", err)
		}
		a.engines = engines
	}
	a.pipe = pipe
	a.cfg = next
	a.consume(pipe.provider.Events())

	a.log.Info("app: configuration reloaded",
		"ambient", d.AmbientChanged,
		"providers", d.ProvidersChanged,
		"capture", d.CaptureChanged,
		"recorder", d.RecorderChanged,
	)
	if !a.running || a.suspended {
		return nil
	}
	if err := a.startPipeline(pipe, next.Ambient.Phrases()); err != nil {
		return fmt.Errorf("app: reload: %w", err)
	}
	return nil
}

// State returns the provider's lifecycle state.
func (a *App) State() ambient.State {
	a.mu.Lock()
	p := a.pipe.provider
	a.mu.Unlock()
	return p.State()
}

// Status is the operator snapshot served at /status.
type Status struct {
	State         string                   `json:"state"`
	Message       string                   `json:"message,omitempty"`
	Mode          config.Mode              `json:"mode"`
	Suspended     bool                     `json:"suspended"`
	Command       string                   `json:"command,omitempty"`
	InputLevel    float64                  `json:"input_level"`
	DroppedFrames int64                    `json:"dropped_frames"`
	Engines       []resilience.EntryStatus `json:"engines"`
}

// Status returns a snapshot of the listener.
func (a *App) Status() Status {
	a.mu.Lock()
	p, suspended := a.pipe, a.suspended
	engines := a.engineStatusLocked()
	a.mu.Unlock()

	st := p.provider.State()
	s := Status{
		State:         st.Kind.String(),
		Message:       st.Message,
		Mode:          p.mode,
		Suspended:     suspended,
		InputLevel:    p.capture.Level(),
		DroppedFrames: p.capture.Dropped(),
		Engines:       engines,
	}
	if c, ok := p.provider.(interface{ Command() string }); ok {
		s.Command = c.Command()
	}
	return s
}

// engineStatus returns the circuit states of the active mode's engines.
func (a *App) engineStatus() []resilience.EntryStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engineStatusLocked()
}

func (a *App) engineStatusLocked() []resilience.EntryStatus {
	if a.engines == nil {
		return nil
	}
	engine, name := any(a.engines.Transcriber), a.engines.TranscriberName
	if a.pipe.mode == config.ModeStreaming {
		engine, name = a.engines.Stream, a.engines.StreamName
	}
	if s, ok := engine.(interface{ Status() []resilience.EntryStatus }); ok {
		return s.Status()
	}
	if engine == nil {
		return nil
	}
	return []resilience.EntryStatus{{Name: name, State: resilience.StateClosed}}
}

// activeEngine returns the engine serving the current mode, or nil.
func (a *App) activeEngine() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engines == nil {
		return nil
	}
	if a.pipe.mode == config.ModeStreaming {
		return a.engines.Stream
	}
	return a.engines.Transcriber
}

// Handler returns the operator HTTP surface: /healthz, /readyz (with
// ?deep=1 pinging the active engine), /status, and /metrics from gatherer.
// A nil gatherer omits /metrics.
func (a *App) Handler(gatherer prometheus.Gatherer) http.Handler {
	h := health.New(
		health.ListenerCheck(a.State),
		health.EnginesCheck(a.engineStatus),
	).WithDeep(
		health.PingCheck("engine", a.activeEngine),
	).WithStatus(func() any { return a.Status() })

	mux := http.NewServeMux()
	h.Register(mux)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return observe.Middleware(a.metrics)(mux)
}

// Shutdown stops listening and closes the pipeline and engines. It respects
// the context deadline while waiting for the event consumers to drain.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down")
		a.cancel()

		a.mu.Lock()
		a.closed = true
		errs := []error{a.pipe.close(), a.engines.Close()}
		a.mu.Unlock()

		done := make(chan struct{})
		go func() {
			a.consumers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.log.Warn("app: shutdown deadline exceeded while draining events")
			errs = append(errs, ctx.Err())
		}

		shutdownErr = errors.Join(errs...)
		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}
