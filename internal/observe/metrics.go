// Package observe provides application-wide observability primitives for the
// ambient pipeline: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ambient metrics.
const meterName = "github.com/MrWong99/ambient"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text latency per batch request. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("mode", ...)
	STTDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts engine calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Detections counts phrase detections. Use with attribute:
	//   attribute.String("phrase", "wake"|"end"|"cancel")
	Detections metric.Int64Counter

	// ChunksFinalized counts recorder chunks delivered downstream.
	ChunksFinalized metric.Int64Counter

	// ChunksDiscarded counts recorder chunks dropped before delivery. Use
	// with attribute:
	//   attribute.String("reason", ...)
	ChunksDiscarded metric.Int64Counter

	// PacketsEmitted counts resampled packets handed to a streaming engine.
	PacketsEmitted metric.Int64Counter

	// FramesDropped counts capture frames dropped because the dispatch queue
	// was full.
	FramesDropped metric.Int64Counter

	// CaptureRestarts counts successful in-place capture restarts.
	CaptureRestarts metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts engine errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// InputLevel is the most recent normalised RMS microphone level (0-1).
	InputLevel metric.Float64Gauge

	// ActiveProviders tracks the number of transcription providers in an
	// active listening period.
	ActiveProviders metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operator HTTP latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for batch
// transcription of multi-second chunks.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("ambient.stt.duration",
		metric.WithDescription("Latency of batch speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "ambient.provider.requests", "Total engine requests by provider, kind, and status."},
		{&met.Detections, "ambient.phrase.detections", "Total phrase detections by phrase kind."},
		{&met.ChunksFinalized, "ambient.recorder.chunks_finalized", "Total recorder chunks delivered downstream."},
		{&met.ChunksDiscarded, "ambient.recorder.chunks_discarded", "Total recorder chunks discarded by reason."},
		{&met.PacketsEmitted, "ambient.resampler.packets", "Total resampled packets emitted."},
		{&met.FramesDropped, "ambient.capture.frames_dropped", "Total capture frames dropped on a full queue."},
		{&met.CaptureRestarts, "ambient.capture.restarts", "Total in-place capture restarts."},
		{&met.ProviderErrors, "ambient.provider.errors", "Total engine errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.InputLevel, err = m.Float64Gauge("ambient.capture.input_level",
		metric.WithDescription("Most recent normalised RMS microphone level."),
	); err != nil {
		return nil, err
	}
	if met.ActiveProviders, err = m.Int64UpDownCounter("ambient.active_providers",
		metric.WithDescription("Number of transcription providers currently listening."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("ambient.http.request.duration",
		metric.WithDescription("Operator HTTP latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDetection records one phrase detection.
func (m *Metrics) RecordDetection(ctx context.Context, phrase string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("phrase", phrase)))
}

// RecordChunkDiscarded records one discarded recorder chunk.
func (m *Metrics) RecordChunkDiscarded(ctx context.Context, reason string) {
	m.ChunksDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
