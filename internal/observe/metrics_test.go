package observe

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point of a sum metric whose
// attribute key equals value. ok is false when no such point exists.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key(key)); found && v.Emit() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voicegate.features.duration", m.FeatureDuration},
		{"voicegate.embed.duration", m.EmbedDuration},
		{"voicegate.classify.duration", m.ClassifyDuration},
		{"voicegate.cycle.duration", m.CycleDuration},
		{"voicegate.trigger.duration", m.TriggerDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.012)
		tc.h.Record(ctx, 0.3)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, false)
	m.RecordSpeechEvent(ctx, "speech_confirmed")
	m.RecordVerification(ctx, "matched")
	m.RecordVerification(ctx, "matched")
	m.RecordVerification(ctx, "error")
	m.RecordAutoEnrollment(ctx, "ok")
	m.RecordTrigger(ctx, "ok")
	m.RecordSuppressed(ctx, "cooldown")
	m.RecordSuppressed(ctx, "cooldown")
	m.RecordSuppressed(ctx, "cooldown")
	m.RecordProviderError(ctx, "onnx", "embedding")

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voicegate.frames", "speech", "true", 2},
		{"voicegate.frames", "speech", "false", 1},
		{"voicegate.speech.events", "event", "speech_confirmed", 1},
		{"voicegate.verifications", "outcome", "matched", 2},
		{"voicegate.verifications", "outcome", "error", 1},
		{"voicegate.auto_enrollments", "status", "ok", 1},
		{"voicegate.triggers", "status", "ok", 1},
		{"voicegate.triggers.suppressed", "reason", "cooldown", 3},
		{"voicegate.provider.errors", "kind", "embedding", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			got, ok := counterValue(t, rm, tc.name, tc.key, tc.value)
			if !ok {
				t.Fatalf("data point %s=%s not found", tc.key, tc.value)
			}
			if got != tc.want {
				t.Errorf("counter value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDroppedCyclesAndSubscribers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.DroppedCycles.Add(ctx, 1)
	m.TelemetrySubscribers.Add(ctx, 1)
	m.TelemetrySubscribers.Add(ctx, 1)
	m.TelemetrySubscribers.Add(ctx, -1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"voicegate.cycles.dropped", 1},
		{"voicegate.telemetry.subscribers", 1},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStageHistogramsUseInferenceBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// 40 ms embedding, 4 s actuation that ran into its timeout.
	m.EmbedDuration.Record(ctx, 0.04)
	m.TriggerDuration.Record(ctx, 4)

	rm := collect(t, reader)
	for name, wantBucket := range map[string]int{
		"voicegate.embed.duration":   4,  // (0.025, 0.05]
		"voicegate.trigger.duration": 10, // (2.5, 5]
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
		if !slices.Equal(dp.Bounds, latencyBuckets) {
			t.Errorf("%s bounds = %v, want %v", name, dp.Bounds, latencyBuckets)
		}
		if dp.BucketCounts[wantBucket] != 1 {
			t.Errorf("%s bucket counts = %v, want the sample in bucket %d", name, dp.BucketCounts, wantBucket)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
