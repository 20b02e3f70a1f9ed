// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and trace-aware structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API against the
// globally registered providers; deployments that want Prometheus scraping
// register an exporter bridge at startup. Tests should use NewMetrics with a
// custom metric.MeterProvider to avoid cross-test pollution.
package observe

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope name for all mesabot telemetry.
const scopeName = "github.com/ayudatec/mesabot"

// Tracer returns the package-level trace.Tracer. It uses the globally
// registered trace.TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartSpan starts a new span and returns the updated context and span.
// The caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Logger returns an slog.Logger enriched with trace_id and span_id from the
// OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// LLMCallDuration tracks LLM gateway call latency. Attributes:
	//   kind ("classifier"|"step"), status ("ok"|"timeout"|"invalid_json"|"schema"|"transport")
	LLMCallDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path
	HTTPRequestDuration metric.Float64Histogram

	// Turns counts processed conversation turns. Attributes: stage
	Turns metric.Int64Counter

	// Fallbacks counts deterministic fallbacks substituted for LLM output.
	// Attributes: kind, reason
	Fallbacks metric.Int64Counter

	// Escalations counts ticket emissions. Attributes: reason
	Escalations metric.Int64Counter

	// RateLimited counts requests rejected with 429. Attributes: route
	RateLimited metric.Int64Counter

	// ActiveConversations tracks conversations currently held in the
	// session cache.
	ActiveConversations metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance using the given MeterProvider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(scopeName)
	m := &Metrics{}
	var err error

	if m.LLMCallDuration, err = meter.Float64Histogram(
		"mesabot.llm.call.duration",
		metric.WithDescription("LLM gateway call latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"mesabot.http.request.duration",
		metric.WithDescription("HTTP request processing time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.Turns, err = meter.Int64Counter(
		"mesabot.turns",
		metric.WithDescription("Processed conversation turns"),
	); err != nil {
		return nil, err
	}
	if m.Fallbacks, err = meter.Int64Counter(
		"mesabot.llm.fallbacks",
		metric.WithDescription("Deterministic fallbacks substituted for LLM output"),
	); err != nil {
		return nil, err
	}
	if m.Escalations, err = meter.Int64Counter(
		"mesabot.escalations",
		metric.WithDescription("Tickets emitted for human handover"),
	); err != nil {
		return nil, err
	}
	if m.RateLimited, err = meter.Int64Counter(
		"mesabot.http.rate_limited",
		metric.WithDescription("Requests rejected by rate limiting"),
	); err != nil {
		return nil, err
	}
	if m.ActiveConversations, err = meter.Int64UpDownCounter(
		"mesabot.conversations.active",
		metric.WithDescription("Conversations resident in the session cache"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordLLMCall records one gateway call with its duration and outcome.
func (m *Metrics) RecordLLMCall(ctx context.Context, kind, status string, seconds float64) {
	if m == nil || m.LLMCallDuration == nil {
		return
	}
	m.LLMCallDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, seconds float64) {
	if m == nil || m.HTTPRequestDuration == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

// CountTurn records one processed turn for the given stage.
func (m *Metrics) CountTurn(ctx context.Context, stage string) {
	if m == nil || m.Turns == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// CountFallback records one deterministic fallback.
func (m *Metrics) CountFallback(ctx context.Context, kind, reason string) {
	if m == nil || m.Fallbacks == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

// CountEscalation records one ticket emission.
func (m *Metrics) CountEscalation(ctx context.Context, reason string) {
	if m == nil || m.Escalations == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CountRateLimited records one 429 rejection for the given route.
func (m *Metrics) CountRateLimited(ctx context.Context, route string) {
	if m == nil || m.RateLimited == nil {
		return
	}
	m.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// AddActiveConversations adjusts the active-conversation gauge.
func (m *Metrics) AddActiveConversations(ctx context.Context, delta int64) {
	if m == nil || m.ActiveConversations == nil {
		return
	}
	m.ActiveConversations.Add(ctx, delta)
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics instance backed by the
// global MeterProvider. Instrument creation errors are logged and yield
// no-op instruments rather than failing startup.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			slog.Error("Failed to create default metrics, telemetry disabled", "error", err)
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
