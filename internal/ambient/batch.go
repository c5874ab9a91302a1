package ambient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/ambient/internal/observe"
	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

var _ Provider = (*BatchProvider)(nil)

// BatchProvider transcribes recorded chunks one at a time. Each chunk is a
// complete, final transcript; end and cancel phrases are matched against
// the whole command buffer.
//
// All methods are safe for concurrent use.
type BatchProvider struct {
	core
	engine stt.Transcriber

	// work is unbuffered: Ingest returns once the worker took the chunk.
	work chan audio.Chunk

	// Guarded by core.mu.
	stop   chan struct{}
	cancel context.CancelFunc
	locale string

	wg sync.WaitGroup
}

// NewBatch returns an idle BatchProvider backed by engine. When engine also
// implements [stt.Pinger], Start uses it to verify connectivity; an
// [stt.MemoryReporter] supplies the ready event's memory estimate.
func NewBatch(engine stt.Transcriber, opts ...Option) (*BatchProvider, error) {
	if engine == nil {
		return nil, errors.New("ambient: batch: transcriber is required")
	}
	p := &BatchProvider{
		engine: engine,
		work:   make(chan audio.Chunk),
	}
	p.setup(buildOptions(opts, "batch"))
	return p, nil
}

// Start verifies the engine and starts the transcription worker.
func (p *BatchProvider) Start(ctx context.Context, cfg Config) error {
	connectCtx, gen, ok, err := p.beginStart(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ambient: start: %w", err)
	}
	if !ok {
		return nil
	}
	defer p.connecting.Done()

	if pinger, ok := p.engine.(stt.Pinger); ok {
		spanCtx, span := observe.StartEngineSpan(connectCtx, p.opts.name, "ping")
		err = pinger.Ping(spanCtx)
		observe.EndSpan(span, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		// Stopped while connecting.
		return nil
	}
	if err != nil {
		p.failStartLocked(err)
		return fmt.Errorf("ambient: start: connect %s: %w", p.opts.name, err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.stop = make(chan struct{})
	p.cancel = cancel
	p.locale = cfg.Locale
	p.listenLocked(cfg, memoryEstimate(p.engine))

	p.wg.Add(1)
	go p.worker(workerCtx, gen, p.stop)
	return nil
}

// Ingest hands chunk to the transcription worker and blocks until the
// worker accepts it, the provider stops, or ctx is done. Chunks are ignored
// unless the provider is listening or in a command.
func (p *BatchProvider) Ingest(ctx context.Context, chunk audio.Chunk) error {
	p.mu.Lock()
	if !p.state.Active() {
		p.mu.Unlock()
		return nil
	}
	stop := p.stop
	p.mu.Unlock()

	select {
	case p.work <- chunk:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels an in-flight transcription, waits for the worker and returns
// to idle.
func (p *BatchProvider) Stop() error {
	if _, ok := p.beginStop(); !ok {
		return nil
	}
	p.mu.Lock()
	stop, cancel := p.stop, p.cancel
	p.stop, p.cancel = nil, nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.finishStop()
	return nil
}

// Close stops the provider and closes the event channel. Start returns
// [ErrClosed] afterwards.
func (p *BatchProvider) Close() error {
	err := p.Stop()
	p.close()
	return err
}

func (p *BatchProvider) worker(ctx context.Context, gen uint64, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case chunk := <-p.work:
			p.transcribe(ctx, gen, chunk)
		}
	}
}

func (p *BatchProvider) transcribe(ctx context.Context, gen uint64, chunk audio.Chunk) {
	p.mu.Lock()
	locale := p.locale
	p.mu.Unlock()

	start := time.Now()
	spanCtx, span := observe.StartEngineSpan(ctx, p.opts.name, "transcribe",
		observe.Attr("ambient.chunk", chunk.ID))
	res, err := p.engine.Transcribe(spanCtx, stt.Request{
		Audio:      chunk.PCM(),
		Path:       chunk.Path,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Language:   locale,
		Priority:   stt.PriorityLow,
	})
	observe.EndSpan(span, err)
	p.record(ctx, time.Since(start), err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.currentLocked(gen) {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.engineErrorLocked("transcribe", fmt.Errorf("transcription of chunk %s failed: %w", chunk.ID, err))
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		observe.WithTrace(spanCtx, p.log).Debug("ambient: empty transcript", "chunk", chunk.ID)
		return
	}
	p.events.emit(TranscriptEvent(text, 0, true))
	p.applyLocked(p.session.batch(text, p.opts.now()))
}

func (p *BatchProvider) record(ctx context.Context, d time.Duration, err error) {
	m := p.opts.metrics
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		observe.Attr("provider", p.opts.name),
		observe.Attr("mode", "batch"),
	))
	m.RecordProviderRequest(ctx, p.opts.name, "stt", status)
}
