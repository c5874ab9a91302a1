package ambient_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/internal/observe"
	"github.com/MrWong99/ambient/pkg/provider/stt"
	"github.com/MrWong99/ambient/pkg/provider/stt/mock"
)

func newBatch(t *testing.T, engine *mock.Transcriber, opts ...ambient.Option) *ambient.BatchProvider {
	t.Helper()
	p, err := ambient.NewBatch(engine, opts...)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func startBatch(t *testing.T, p *ambient.BatchProvider) {
	t.Helper()
	if err := p.Start(context.Background(), ambient.DefaultConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestNewBatch_RequiresEngine(t *testing.T) {
	t.Parallel()

	if _, err := ambient.NewBatch(nil); err == nil {
		t.Fatal("expected error for nil transcriber")
	}
}

func TestBatch_StartEmitsReady(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{Memory: 1 << 20}
	p := newBatch(t, engine)
	if got := p.State().Kind; got != ambient.StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}

	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(1<<20))
	if got := p.State().Kind; got != ambient.StateListening {
		t.Errorf("state = %v, want listening", got)
	}

	// Start while listening is a no-op.
	startBatch(t, p)
	if engine.PingCalls != 1 {
		t.Errorf("PingCalls = %d, want 1", engine.PingCalls)
	}
}

func TestBatch_StartRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	p := newBatch(t, &mock.Transcriber{})
	cfg := ambient.DefaultConfig()
	cfg.WakePhrase = ""
	if err := p.Start(context.Background(), cfg); err == nil {
		t.Fatal("expected validation error")
	}
	if got := p.State().Kind; got != ambient.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestBatch_ConnectFailureIsFatal(t *testing.T) {
	t.Parallel()

	pingErr := errors.New("engine unreachable")
	engine := &mock.Transcriber{PingErr: pingErr}
	p := newBatch(t, engine)

	err := p.Start(context.Background(), ambient.DefaultConfig())
	if !errors.Is(err, pingErr) {
		t.Fatalf("Start err = %v, want %v", err, pingErr)
	}
	ev := next(t, p)
	if ev.Type != ambient.EventError || !ev.Fatal || !strings.Contains(ev.Message, "engine unreachable") {
		t.Errorf("event = %+v, want fatal error", ev)
	}
	st := p.State()
	if st.Kind != ambient.StateError || st.Message != "engine unreachable" {
		t.Errorf("state = %+v, want error(engine unreachable)", st)
	}

	// Ingest is ignored in the error state.
	if err := p.Ingest(context.Background(), testChunk("c1")); err != nil {
		t.Errorf("Ingest: %v", err)
	}

	// Stop recovers to idle and a later Start succeeds.
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.State().Kind; got != ambient.StateIdle {
		t.Fatalf("state after Stop = %v, want idle", got)
	}
	engine.PingErr = nil
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))
}

func TestBatch_WakeCommandEnd(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	engine := &mock.Transcriber{Results: []stt.Result{
		{Text: "hey talkie"},
		{Text: " turn on the lights "},
		{Text: "that's it"},
	}}
	p := newBatch(t, engine, ambient.WithClock(func() time.Time { return t0 }))
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))

	ctx := context.Background()
	if err := p.Ingest(ctx, testChunk("c1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	expect(t, p,
		ambient.TranscriptEvent("hey talkie", 0, true),
		ambient.WakeEvent("hey talkie", ""),
	)
	st := p.State()
	if st.Kind != ambient.StateCommand || !st.StartedAt.Equal(t0) {
		t.Errorf("state = %+v, want command since %v", st, t0)
	}

	_ = p.Ingest(ctx, testChunk("c2"))
	expect(t, p, ambient.TranscriptEvent("turn on the lights", 0, true))
	waitCommand(t, p, "turn on the lights")

	_ = p.Ingest(ctx, testChunk("c3"))
	expect(t, p,
		ambient.TranscriptEvent("that's it", 0, true),
		ambient.EndEvent("turn on the lights"),
	)
	if got := p.State().Kind; got != ambient.StateListening {
		t.Errorf("state = %v, want listening", got)
	}

	reqs := engine.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	r := reqs[0]
	if r.Priority != stt.PriorityLow || r.Language != "en-US" || r.SampleRate != 16000 || r.Channels != 1 {
		t.Errorf("request = %+v", r)
	}
	if len(r.Audio) != 32000 {
		t.Errorf("request audio = %d bytes, want 32000 (PCM without header)", len(r.Audio))
	}
}

func waitCommand(t *testing.T, p *ambient.BatchProvider, want string) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for p.Command() != want {
		if time.Now().After(deadline) {
			t.Fatalf("command = %q, want %q", p.Command(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBatch_ChunkErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{
		Errors:  []error{errors.New("HTTP 503")},
		Results: []stt.Result{{}, {Text: "hey talkie"}},
	}
	p := newBatch(t, engine)
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))

	ctx := context.Background()
	_ = p.Ingest(ctx, testChunk("bad"))
	ev := next(t, p)
	if ev.Type != ambient.EventError || ev.Fatal || !strings.Contains(ev.Message, "HTTP 503") || !strings.Contains(ev.Message, "bad") {
		t.Errorf("event = %+v, want non-fatal error naming the chunk", ev)
	}

	_ = p.Ingest(ctx, testChunk("good"))
	expect(t, p,
		ambient.TranscriptEvent("hey talkie", 0, true),
		ambient.WakeEvent("hey talkie", ""),
	)
}

func TestBatch_EmptyTranscriptIsIgnored(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{Results: []stt.Result{{Text: "   "}, {Text: "hey talkie"}}}
	p := newBatch(t, engine)
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))

	_ = p.Ingest(context.Background(), testChunk("c1"))
	_ = p.Ingest(context.Background(), testChunk("c2"))
	expect(t, p, ambient.TranscriptEvent("hey talkie", 0, true))
}

func TestBatch_IngestWaitsForWorker(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{Block: make(chan struct{})}
	p := newBatch(t, engine)
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))

	ctx := context.Background()
	if err := p.Ingest(ctx, testChunk("c1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	second := make(chan error, 1)
	go func() { second <- p.Ingest(ctx, testChunk("c2")) }()

	select {
	case err := <-second:
		t.Fatalf("second Ingest returned (%v) while the first chunk was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}
	if n := engine.CallCount(); n != 1 {
		t.Errorf("outstanding requests = %d, want 1", n)
	}

	close(engine.Block)
	select {
	case err := <-second:
		if err != nil {
			t.Errorf("second Ingest: %v", err)
		}
	case <-time.After(eventTimeout):
		t.Fatal("second Ingest never returned")
	}
}

func TestBatch_IngestHonoursContext(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{Block: make(chan struct{})}
	p := newBatch(t, engine)
	startBatch(t, p)
	_ = p.Ingest(context.Background(), testChunk("c1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Ingest(ctx, testChunk("c2")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ingest err = %v, want deadline exceeded", err)
	}
}

func TestBatch_IngestIgnoredWhenIdle(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{}
	p := newBatch(t, engine)
	if err := p.Ingest(context.Background(), testChunk("c1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n := engine.CallCount(); n != 0 {
		t.Errorf("Transcribe calls = %d, want 0", n)
	}
}

func TestBatch_StopAbandonsInflightChunk(t *testing.T) {
	t.Parallel()

	engine := &mock.Transcriber{
		Block:  make(chan struct{}),
		Result: stt.Result{Text: "hey talkie"},
	}
	p := newBatch(t, engine)
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))
	_ = p.Ingest(context.Background(), testChunk("c1"))

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(eventTimeout):
		t.Fatal("Stop blocked on the in-flight transcription")
	}
	if got := p.State().Kind; got != ambient.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}

	// A second Stop is a no-op, and the cancelled request produced no
	// events: the next one is the new ready.
	_ = p.Stop()
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))
}

func TestBatch_CloseClosesEvents(t *testing.T) {
	t.Parallel()

	p, err := ambient.NewBatch(&mock.Transcriber{})
	if err != nil {
		t.Fatal(err)
	}
	startBatch(t, p)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = p.Close()

	// The ready event was never read; Close still delivers it.
	var got []ambient.Event
	deadline := time.After(eventTimeout)
	for open := true; open; {
		select {
		case ev, ok := <-p.Events():
			if open = ok; ok {
				got = append(got, ev)
			}
		case <-deadline:
			t.Fatal("event channel not closed")
		}
	}
	if len(got) == 0 || got[0] != ambient.ReadyEvent(0) {
		t.Errorf("events after close = %+v, want the queued ready event first", got)
	}
	if err := p.Start(context.Background(), ambient.DefaultConfig()); !errors.Is(err, ambient.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestBatch_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	engine := &mock.Transcriber{Results: []stt.Result{{Text: "hey talkie"}}}
	p := newBatch(t, engine, ambient.WithMetrics(m), ambient.WithEngineName("whisper"))
	startBatch(t, p)
	expect(t, p, ambient.ReadyEvent(0))
	_ = p.Ingest(context.Background(), testChunk("c1"))
	expect(t, p,
		ambient.TranscriptEvent("hey talkie", 0, true),
		ambient.WakeEvent("hey talkie", ""),
	)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if s, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[met.Name] += dp.Value
				}
			}
		}
	}
	if sums["ambient.phrase.detections"] != 1 {
		t.Errorf("detections = %d, want 1", sums["ambient.phrase.detections"])
	}
	if sums["ambient.provider.requests"] != 1 {
		t.Errorf("provider requests = %d, want 1", sums["ambient.provider.requests"])
	}
	if sums["ambient.active_providers"] != 1 {
		t.Errorf("active providers = %d, want 1", sums["ambient.active_providers"])
	}
}
