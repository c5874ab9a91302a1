package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func gatheredNames(t *testing.T, reg *prometheus.Registry) []string {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func hasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	mp, shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Attributes:     []attribute.KeyValue{attribute.String("ambient.config", "ambient.yaml")},
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordDetection(context.Background(), "wake")

	names := gatheredNames(t, reg)
	if !hasPrefix(names, "ambient_phrase_detections") {
		t.Errorf("ambient_phrase_detections not exported, got %v", names)
	}
	if hasPrefix(names, "go_goroutines") {
		t.Error("runtime collectors registered without RuntimeMetrics")
	}
}

func TestInitProvider_RuntimeMetrics(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	// A collector registered earlier by the host must not fail startup.
	reg.MustRegister(collectors.NewGoCollector())
	_, shutdown, err := InitProvider(context.Background(), ProviderConfig{
		Registerer:     reg,
		RuntimeMetrics: true,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	if names := gatheredNames(t, reg); !hasPrefix(names, "go_goroutines") {
		t.Errorf("go runtime metrics missing, got %v", names)
	}
}

func TestInitProvider_ShutdownFlushes(t *testing.T) {
	restoreGlobals(t)

	_, shutdown, err := InitProvider(context.Background(), ProviderConfig{
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
