// Package observe provides application-wide observability primitives for
// voicegate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all voicegate metrics.
const meterName = "github.com/MrWong99/voicegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FeatureDuration tracks log-mel feature extraction time.
	FeatureDuration metric.Float64Histogram

	// EmbedDuration tracks speaker embedding inference latency.
	EmbedDuration metric.Float64Histogram

	// ClassifyDuration tracks gender classification latency.
	ClassifyDuration metric.Float64Histogram

	// CycleDuration tracks one full verification cycle, from snapshot to
	// decision.
	CycleDuration metric.Float64Histogram

	// TriggerDuration tracks actuation request latency.
	TriggerDuration metric.Float64Histogram

	// --- Counters ---

	// Frames counts frames processed by the detector. Use with attribute:
	//   attribute.Bool("speech", ...)
	Frames metric.Int64Counter

	// SpeechEvents counts debounced detector events. Use with attribute:
	//   attribute.String("event", "speech_confirmed"|"silence_confirmed")
	SpeechEvents metric.Int64Counter

	// Verifications counts verification cycles. Use with attribute:
	//   attribute.String("outcome", "matched"|"rejected"|"error")
	Verifications metric.Int64Counter

	// AutoEnrollments counts background enrollment saves. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	AutoEnrollments metric.Int64Counter

	// Triggers counts actuation attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Triggers metric.Int64Counter

	// Suppressed counts matched cycles that did not actuate. Use with attribute:
	//   attribute.String("reason", "cooldown"|"label"|"stopped"|"classify_error")
	Suppressed metric.Int64Counter

	// DroppedCycles counts speech confirmations discarded because a cycle was
	// already in flight.
	DroppedCycles metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts collaborator errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// TelemetrySubscribers tracks connected telemetry websocket clients.
	TelemetrySubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// on-device inference latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.FeatureDuration, "voicegate.features.duration", "Latency of log-mel feature extraction."},
		{&met.EmbedDuration, "voicegate.embed.duration", "Latency of speaker embedding inference."},
		{&met.ClassifyDuration, "voicegate.classify.duration", "Latency of gender classification."},
		{&met.CycleDuration, "voicegate.cycle.duration", "Latency of a full verification cycle."},
		{&met.TriggerDuration, "voicegate.trigger.duration", "Latency of the actuation request."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Frames, "voicegate.frames", "Total frames classified by the VAD, by raw decision."},
		{&met.SpeechEvents, "voicegate.speech.events", "Total debounced speech and silence confirmations."},
		{&met.Verifications, "voicegate.verifications", "Total verification cycles by outcome."},
		{&met.AutoEnrollments, "voicegate.auto_enrollments", "Total background auto-enrollment saves by status."},
		{&met.Triggers, "voicegate.triggers", "Total actuation attempts by status."},
		{&met.Suppressed, "voicegate.triggers.suppressed", "Total matched cycles that did not actuate, by reason."},
		{&met.DroppedCycles, "voicegate.cycles.dropped", "Total speech confirmations dropped while a cycle was in flight."},
		{&met.ProviderErrors, "voicegate.provider.errors", "Total collaborator errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.TelemetrySubscribers, err = m.Int64UpDownCounter("voicegate.telemetry.subscribers",
		metric.WithDescription("Number of connected telemetry stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicegate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
}

// RecordSpeechEvent counts one debounced detector event.
func (m *Metrics) RecordSpeechEvent(ctx context.Context, event string) {
	m.SpeechEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordVerification counts one verification cycle with its outcome.
func (m *Metrics) RecordVerification(ctx context.Context, outcome string) {
	m.Verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAutoEnrollment counts one background enrollment save.
func (m *Metrics) RecordAutoEnrollment(ctx context.Context, status string) {
	m.AutoEnrollments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTrigger counts one actuation attempt.
func (m *Metrics) RecordTrigger(ctx context.Context, status string) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSuppressed counts a matched cycle that did not actuate.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	m.Suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
