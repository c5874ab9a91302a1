package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "ambient".
	ServiceName    string
	ServiceVersion string

	// Attributes are added to the telemetry resource, e.g. the capture
	// device or pipeline mode of this listener.
	Attributes []attribute.KeyValue

	// Registerer receives the exporter's collectors. Nil selects
	// [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer

	// RuntimeMetrics additionally registers the Go runtime and process
	// collectors on Registerer.
	RuntimeMetrics bool

	// TraceExporter receives finished spans. When nil, spans are sampled
	// for correlation IDs but never exported.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global OTel meter and tracer providers. Metrics are
// bridged to Prometheus so the operator surface can serve them on /metrics;
// the returned meter provider feeds [NewMetrics]. Call shutdown on exit to
// flush exporters.
func InitProvider(ctx context.Context, cfg ProviderConfig) (mp *sdkmetric.MeterProvider, shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ambient"
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		append([]attribute.KeyValue{
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		}, cfg.Attributes...)...,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("observe: resource: %w", err)
	}

	if cfg.RuntimeMetrics {
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if err := reg.Register(c); err != nil {
				var dup prometheus.AlreadyRegisteredError
				if !errors.As(err, &dup) {
					return nil, nil, fmt.Errorf("observe: runtime collectors: %w", err)
				}
			}
		}
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	shutdown = func(ctx context.Context) error {
		// Traces first: span export may still record metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return mp, shutdown, nil
}
