package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every voicegate span.
const tracerName = "github.com/MrWong99/voicegate"

// Span names used by the verification pipeline.
const (
	SpanCycle   = "gate.cycle"
	SpanTrigger = "gate.trigger"
)

// Tracer returns the voicegate tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under the voicegate tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCycle starts the root span of one verification cycle. Cycles are
// started by the audio worker, never by a request, so the span is always a
// new root.
func StartCycle(ctx context.Context, cycle uint64, samples int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCycle,
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.Int64("gate.cycle", int64(cycle)),
			attribute.Int("gate.utterance_samples", samples),
		),
	)
}

// FailSpan records err on span and marks it failed with msg.
func FailSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// It identifies a verification cycle or an admin request across logs,
// telemetry events and the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace and span ids
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	return WithTrace(ctx, slog.Default())
}

// WithTrace adds trace_id and span_id from ctx to l. Without an active span
// l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
