package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Routes served by the operator surface. Anything else is reported as
// [otherRoute] so that scans cannot blow up metric cardinality.
var routes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/status":  true,
	"/metrics": true,
}

const otherRoute = "other"

// route maps a request path to its metric and span label.
func route(path string) string {
	if routes[path] {
		return path
	}
	return otherRoute
}

// logLevel picks the completion log level. Probes and scrapes arrive every
// few seconds and stay at debug unless they fail. A 503 from /readyz is the
// normal answer while suspended.
func logLevel(path string, status int) slog.Level {
	switch {
	case path == "/readyz" && status == http.StatusServiceUnavailable:
		return slog.LevelInfo
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case routes[path] && status < http.StatusBadRequest:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Middleware instruments the operator HTTP surface. Each request joins the
// W3C trace context of the caller (or starts one), runs inside a server span,
// gets an X-Correlation-ID response header carrying the trace ID, and is
// recorded in [Metrics.HTTPRequestDuration] by method and route.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rt := route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+rt,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(rt),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
				),
			)
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(rec.status),
				semconv.HTTPResponseBodySize(rec.bytes),
			)

			attrs := append(TraceAttrs(ctx),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", elapsed),
			)
			slog.LogAttrs(ctx, logLevel(r.URL.Path, rec.status), "observe: http request", attrs...)
		})
	}
}
