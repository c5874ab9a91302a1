// Package ambient turns transcripts from a speech engine into wake, command
// and cancel events.
//
// Two providers implement the same lifecycle. [BatchProvider] transcribes
// recorded chunks one at a time through an [stt.Transcriber];
// [StreamingProvider] keeps one [stt.SessionHandle] open for the whole
// listening period and feeds it resampled packets. Both run the same phrase
// state machine and publish [Event] values on a single ordered channel.
package ambient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ambient/internal/observe"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("ambient: provider closed")

// Provider is the lifecycle shared by the batch and streaming providers.
type Provider interface {
	// Start connects to the engine and begins listening for cfg's wake
	// phrase. It is a no-op unless the provider is idle. A connect failure
	// emits a fatal error event, leaves the provider in [StateError] and is
	// returned.
	Start(ctx context.Context, cfg Config) error

	// Stop releases the engine session and returns to idle. It is safe from
	// any state and a no-op when idle.
	Stop() error

	// State returns a snapshot of the lifecycle state.
	State() State

	// Events returns the event channel. It is closed by Close.
	Events() <-chan Event

	// Close stops the provider and closes the event channel once the
	// events queued before it have been delivered. Consumers should read
	// Events until it is closed.
	Close() error
}

// Option configures a provider.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
	name    string
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records detections, engine latency and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the wall clock used for command start times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEngineName labels metrics, spans and logs with the engine's name.
func WithEngineName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option, defaultName string) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		name:   defaultName,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// core is the state shared by both providers. Fields below mu are guarded
// by it; events are emitted while holding mu so their order matches the
// state transitions.
type core struct {
	opts   options
	log    *slog.Logger
	events *emitter

	closeOnce sync.Once

	// connecting tracks a Start between beginStart and its return, so Stop
	// can wait for a racing connect to release what it opened.
	connecting sync.WaitGroup

	mu      sync.Mutex
	state   State
	session *phraseSession
	active  bool
	closed  bool

	// gen increments on every Start and Stop. Goroutines of an earlier
	// listening period compare it before touching state.
	gen uint64

	// abort cancels a connect in progress.
	abort context.CancelFunc
}

func (c *core) setup(opts options) {
	c.opts = opts
	c.log = opts.logger.With("provider", opts.name)
	c.events = newEmitter()
}

// State returns a snapshot of the lifecycle state.
func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the ordered event channel.
func (c *core) Events() <-chan Event {
	return c.events.out
}

// Command returns the text accumulated since the wake phrase, or "" outside
// a command.
func (c *core) Command() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.command()
}

// beginStart moves idle to starting. ok is false when Start must return
// without doing anything.
func (c *core) beginStart(ctx context.Context, cfg Config) (connectCtx context.Context, gen uint64, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, false, ErrClosed
	}
	if c.state.Kind != StateIdle {
		return nil, 0, false, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, 0, false, err
	}
	c.gen++
	c.state = State{Kind: StateStarting}
	connectCtx, c.abort = context.WithCancel(ctx)
	c.connecting.Add(1)
	return connectCtx, c.gen, true, nil
}

// failStartLocked records a connect failure.
func (c *core) failStartLocked(err error) {
	c.abort()
	c.abort = nil
	c.state = State{Kind: StateError, Message: err.Error()}
	c.events.emit(ErrorEvent("could not connect to speech engine: "+err.Error(), true))
	c.log.Error("ambient: engine connect failed", "err", err)
	if c.opts.metrics != nil {
		c.opts.metrics.RecordProviderError(context.Background(), c.opts.name, "connect")
	}
}

// listenLocked enters listening with a fresh phrase session.
func (c *core) listenLocked(cfg Config, memoryEstimate int64) {
	c.abort()
	c.abort = nil
	c.session = newPhraseSession(cfg)
	c.state = c.session.state()
	c.setActiveLocked(true)
	c.events.emit(ReadyEvent(memoryEstimate))
	c.log.Info("ambient: listening", "wake_phrase", cfg.WakePhrase, "locale", cfg.Locale)
}

// failLocked moves an active provider to the error state.
func (c *core) failLocked(msg string) {
	c.state = State{Kind: StateError, Message: msg}
	c.session = nil
	c.setActiveLocked(false)
	c.events.emit(ErrorEvent(msg, true))
	c.log.Error("ambient: provider failed", "reason", msg)
}

// beginStop moves any non-idle state to stopping. It reports whether a
// stop is needed; when from is StateError the caller only releases
// leftovers.
func (c *core) beginStop() (from StateKind, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from = c.state.Kind
	if from == StateIdle || from == StateStopping {
		return from, false
	}
	c.gen++
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	if c.session != nil {
		c.session.reset()
		c.session = nil
	}
	c.setActiveLocked(false)
	c.state = State{Kind: StateStopping}
	return from, true
}

func (c *core) finishStop() {
	c.connecting.Wait()
	c.mu.Lock()
	c.state = State{Kind: StateIdle}
	c.mu.Unlock()
	c.log.Info("ambient: stopped")
}

// currentLocked reports whether gen still owns the provider.
func (c *core) currentLocked(gen uint64) bool {
	return gen == c.gen && c.state.Active() && c.session != nil
}

// applyLocked emits the phrase events and syncs the state with the session.
func (c *core) applyLocked(evs []Event) {
	for _, ev := range evs {
		c.events.emit(ev)
		var kind string
		switch ev.Type {
		case EventWakeDetected:
			kind = "wake"
			c.log.Info("ambient: wake phrase detected")
		case EventEndDetected:
			kind = "end"
			c.log.Info("ambient: command complete", "chars", len(ev.Command))
		case EventCancelDetected:
			kind = "cancel"
			c.log.Info("ambient: command cancelled")
		}
		if kind != "" && c.opts.metrics != nil {
			c.opts.metrics.RecordDetection(context.Background(), kind)
		}
	}
	c.state = c.session.state()
}

// engineErrorLocked reports a non-fatal engine failure.
func (c *core) engineErrorLocked(op string, err error) {
	c.events.emit(ErrorEvent(err.Error(), false))
	c.log.Warn("ambient: engine error", "op", op, "err", err)
	if c.opts.metrics != nil {
		c.opts.metrics.RecordProviderError(context.Background(), c.opts.name, op)
	}
}

func (c *core) setActiveLocked(active bool) {
	if c.active == active {
		return
	}
	c.active = active
	if c.opts.metrics == nil {
		return
	}
	delta := int64(-1)
	if active {
		delta = 1
	}
	c.opts.metrics.ActiveProviders.Add(context.Background(), delta)
}

// close marks the provider closed and closes the event channel once.
func (c *core) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.events.close()
	})
}

func memoryEstimate(engine any) int64 {
	if r, ok := engine.(stt.MemoryReporter); ok {
		return r.MemoryEstimate()
	}
	return 0
}
