package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Default capture parameters.
const (
	defaultQueueFrames       = 64
	defaultMaxRestarts       = 5
	defaultRestartBackoff    = 500 * time.Millisecond
	defaultMaxRestartBackoff = 10 * time.Second
)

// ErrCaptureRunning is returned by [Capture.Start] when capture is already
// active.
var ErrCaptureRunning = errors.New("audio: capture already running")

// CaptureConfig configures a [Capture].
type CaptureConfig struct {
	// Source is the input device. Required.
	Source Source

	// QueueFrames bounds the hand-off queue between the device thread and the
	// dispatch goroutine. Frames arriving while the queue is full are dropped
	// and counted. Defaults to 64.
	QueueFrames int

	// MaxRestarts is the number of reopen attempts after the device stops on
	// its own. Defaults to 5.
	MaxRestarts int

	// Backoff is the wait after the first failed reopen attempt. Doubles each
	// attempt up to MaxBackoff. Defaults to 500ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnFrame receives every frame, in capture order, on the dispatch
	// goroutine. It may block briefly; sustained blocking causes drops.
	OnFrame func(Frame)

	// OnRestart is called after the device was reopened, with the possibly
	// changed format. May be nil.
	OnRestart func(Format)

	// OnError is called once when restarts are exhausted. Capture is stopped
	// by then and must be started again explicitly. May be nil.
	OnError func(error)
}

// Capture owns a [Source] and moves its buffers off the real-time device
// thread. The device callback only copies bytes, updates the input level and
// performs a non-blocking send; all further work happens on a dispatch
// goroutine.
//
// When the device stops on its own, or [Capture.Restart] is called after a
// device change, Capture reopens the source with exponential backoff and a
// bounded number of attempts.
//
// All methods are safe for concurrent use.
type Capture struct {
	src         Source
	queueSize   int
	maxRestarts int
	backoff     time.Duration
	maxBackoff  time.Duration
	onFrame     func(Frame)
	onRestart   func(Format)
	onError     func(error)

	level   atomic.Uint64 // math.Float64bits of the last buffer's RMS
	dropped atomic.Int64
	format  atomic.Pointer[Format]

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	running bool
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	restart chan struct{}
	wg      sync.WaitGroup
}

// NewCapture validates cfg and returns an idle Capture.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.Source == nil {
		return nil, errors.New("audio: capture: source is required")
	}
	queueSize := cfg.QueueFrames
	if queueSize <= 0 {
		queueSize = defaultQueueFrames
	}
	maxRestarts := cfg.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = defaultMaxRestarts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRestartBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxRestartBackoff
	}
	return &Capture{
		src:         cfg.Source,
		queueSize:   queueSize,
		maxRestarts: maxRestarts,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onFrame:     cfg.OnFrame,
		onRestart:   cfg.OnRestart,
		onError:     cfg.OnError,
	}, nil
}

// Start opens the source and begins dispatching frames. The context bounds
// the whole capture lifetime, not just the open call.
func (c *Capture) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureRunning
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan Frame, c.queueSize)
	done := make(chan struct{})
	restart := make(chan struct{}, 1)

	c.format.Store(nil)
	c.started = time.Now()
	if _, err := c.open(ctx, queue); err != nil {
		cancel()
		return fmt.Errorf("audio: capture start: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.done = done
	c.restart = restart
	c.mu.Unlock()

	c.wg.Add(2)
	go c.dispatchLoop(done, queue)
	go c.monitorLoop(ctx, done, restart, queue)
	return nil
}

// Stop halts dispatch and closes the source. Frames still queued are
// discarded. Safe to call multiple times and on a Capture that stopped itself
// after exhausting restarts.
func (c *Capture) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.halt(nil)
	c.wg.Wait()
	if err := c.src.Close(); err != nil {
		return fmt.Errorf("audio: capture stop: %w", err)
	}
	return nil
}

// Restart asks the monitor to reopen the device, e.g. after the host reported
// a device change. It does not block. Calls while a restart is pending or
// while capture is stopped have no effect.
func (c *Capture) Restart() {
	c.mu.Lock()
	restart := c.restart
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}
	select {
	case restart <- struct{}{}:
	default:
	}
}

// Running reports whether capture is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Level returns the RMS level of the most recent device buffer in [0, 1].
func (c *Capture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// Dropped returns the number of frames dropped because the queue was full,
// since the Capture was created.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// Format returns the current device format, or the zero Format before the
// first successful open.
func (c *Capture) Format() Format {
	if f := c.format.Load(); f != nil {
		return *f
	}
	return Format{}
}

func (c *Capture) open(ctx context.Context, queue chan<- Frame) (Format, error) {
	f, err := c.src.Open(ctx,
		func(pcm []byte) { c.deliver(queue, pcm) },
		func(err error) {
			slog.Warn("capture: device stopped", "err", err)
			c.Restart()
		},
	)
	if err != nil {
		return Format{}, err
	}
	c.format.Store(&f)
	return f, nil
}

// deliver runs on the device thread.
func (c *Capture) deliver(queue chan<- Frame, pcm []byte) {
	f := c.format.Load()
	if f == nil {
		// Buffers that arrive before Open returned carry no known format.
		return
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)
	c.level.Store(math.Float64bits(RMS(data)))

	frame := Frame{
		Data:       data,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Timestamp:  time.Since(c.started),
	}
	select {
	case queue <- frame:
	default:
		c.dropped.Add(1)
	}
}

func (c *Capture) dispatchLoop(done <-chan struct{}, queue <-chan Frame) {
	defer c.wg.Done()
	for {
		select {
		case <-done:
			return
		case f := <-queue:
			if c.onFrame != nil {
				c.onFrame(f)
			}
		}
	}
}

func (c *Capture) monitorLoop(ctx context.Context, done <-chan struct{}, restart <-chan struct{}, queue chan<- Frame) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-restart:
			if !c.reopen(ctx, done, queue) {
				return
			}
		}
	}
}

// reopen closes the source and tries to open it again with exponential
// backoff. It reports whether monitoring should continue.
func (c *Capture) reopen(ctx context.Context, done <-chan struct{}, queue chan<- Frame) bool {
	if err := c.src.Close(); err != nil {
		slog.Warn("capture: close before restart failed", "err", err)
	}

	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxRestarts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		default:
		}

		slog.Info("capture: restarting device",
			"attempt", attempt,
			"max_restarts", c.maxRestarts,
		)

		f, err := c.open(ctx, queue)
		if err == nil {
			slog.Info("capture: device restarted", "attempt", attempt, "format", f.String())
			if c.onRestart != nil {
				c.onRestart(f)
			}
			return true
		}
		lastErr = err
		slog.Warn("capture: restart attempt failed", "attempt", attempt, "err", err)

		if attempt == c.maxRestarts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
	}

	err := fmt.Errorf("audio: capture: restart failed after %d attempts: %w", c.maxRestarts, lastErr)
	slog.Error("capture: giving up on device", "err", err)
	c.halt(done)
	if c.onError != nil {
		c.onError(err)
	}
	return false
}

// halt stops the current run. When only is non-nil the run is halted only if
// it is still the one owning that done channel.
func (c *Capture) halt(only <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || (only != nil && c.done != only) {
		return
	}
	c.running = false
	c.cancel()
	close(c.done)
}
