package gate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/telemetry"
)

// Suppression reasons reported in [Verification.Suppressed] and the
// suppressed-trigger metric.
const (
	SuppressedCooldown      = "cooldown"
	SuppressedLabel         = "label"
	SuppressedClassifyError = "classify_error"
	SuppressedStopped       = "stopped"
)

// runCycle verifies one utterance and applies the decision policy. Every
// collaborator failure ends the cycle as a non-match; the cycle never
// returns an error.
func (c *Controller) runCycle(ctx context.Context, r *run, utterance []float32) {
	start := time.Now()
	cycle := c.cycles.Add(1)
	ctx, span := observe.StartCycle(ctx, cycle, len(utterance))
	defer span.End()
	log := observe.WithTrace(ctx, c.log.With("cycle", cycle))
	defer func() {
		c.metrics.CycleDuration.Record(ctx, time.Since(start).Seconds())
	}()

	pol := c.Policy()
	v := Verification{Time: c.now()}
	defer func() { c.recordVerification(r, v) }()

	vctx, cancel := context.WithTimeout(ctx, pol.InferenceTimeout)
	embedStart := time.Now()
	res, err := c.deps.Verifier.Verify(vctx, utterance)
	cancel()
	c.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds())
	if err != nil {
		v.Error = err.Error()
		observe.FailSpan(span, err, "verification failed")
		c.metrics.RecordVerification(ctx, "error")
		if matcher.IsRetryable(err) {
			c.metrics.RecordProviderError(ctx, "embedding", "embed")
		}
		log.Warn("verification failed, treated as no match", "err", err, "retryable", matcher.IsRetryable(err))
		c.publish(telemetry.Event{Kind: telemetry.KindVerification, Error: err.Error()})
		return
	}

	v.Matched = res.Matched
	v.Similarity = res.MaxSimilarity
	span.SetAttributes(
		attribute.Bool("gate.matched", res.Matched),
		attribute.Float64("gate.similarity", float64(res.MaxSimilarity)),
		attribute.Bool("gate.auto_enrolled", res.AutoEnrolled),
	)
	if res.Matched {
		c.metrics.RecordVerification(ctx, "matched")
	} else {
		c.metrics.RecordVerification(ctx, "rejected")
	}
	if res.AutoEnrolled {
		c.metrics.RecordAutoEnrollment(ctx, "scheduled")
	}
	log.Debug("utterance verified", "matched", res.Matched, "similarity", res.MaxSimilarity)

	if !res.Matched {
		c.publishVerification(v)
		return
	}

	if c.inCooldown() {
		v.Suppressed = SuppressedCooldown
		c.metrics.RecordSuppressed(ctx, SuppressedCooldown)
		log.Debug("cooldown active, skipping trigger")
		c.publishVerification(v)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, pol.InferenceTimeout)
	classifyStart := time.Now()
	label, err := c.deps.Classifier.Classify(cctx, res.Embedding)
	cancel()
	c.metrics.ClassifyDuration.Record(ctx, time.Since(classifyStart).Seconds())
	if err != nil {
		v.Error = err.Error()
		v.Suppressed = SuppressedClassifyError
		observe.FailSpan(span, err, "classification failed")
		c.metrics.RecordProviderError(ctx, "classifier", "classify")
		c.metrics.RecordSuppressed(ctx, SuppressedClassifyError)
		log.Warn("classification failed, treated as no match", "err", err)
		c.publishVerification(v)
		return
	}
	v.Label = label
	span.SetAttributes(attribute.String("gate.label", string(label)))

	if label != pol.TargetLabel {
		v.Suppressed = SuppressedLabel
		c.metrics.RecordSuppressed(ctx, SuppressedLabel)
		log.Debug("speaker class does not match target", "label", label, "target", pol.TargetLabel)
		c.publishVerification(v)
		return
	}

	if !c.arm(r, pol) {
		v.Suppressed = SuppressedStopped
		c.metrics.RecordSuppressed(ctx, SuppressedStopped)
		log.Info("gate stopped before actuation, trigger discarded")
		c.publishVerification(v)
		return
	}
	v.Triggered = true
	c.publishVerification(v)
	c.trigger(ctx, pol, log)
}

// inCooldown reports whether the cooldown deadline lies in the future.
func (c *Controller) inCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.cooldownUntil)
}

// arm is the last check before actuation. It fails when r is no longer the
// active run or a cooldown began meanwhile; otherwise the cooldown starts
// now.
func (c *Controller) arm(r *run, pol Policy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != r || r.stopping.Load() {
		return false
	}
	now := c.now()
	if now.Before(c.cooldownUntil) {
		return false
	}
	c.lastTrigger = now
	c.cooldownUntil = now.Add(pol.Cooldown)
	return true
}

// trigger fires the actuator. Stop does not cancel an actuation that has
// already been issued; the outcome is logged and counted but never retried.
func (c *Controller) trigger(ctx context.Context, pol Policy, log *slog.Logger) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pol.TriggerTimeout)
	defer cancel()
	tctx, span := observe.StartSpan(tctx, observe.SpanTrigger)
	defer span.End()

	start := time.Now()
	err := c.deps.Actuator.Trigger(tctx)
	c.metrics.TriggerDuration.Record(ctx, time.Since(start).Seconds())

	ev := telemetry.Event{Kind: telemetry.KindTrigger}
	if err != nil {
		ev.Error = err.Error()
		observe.FailSpan(span, err, "actuation failed")
		c.metrics.RecordTrigger(ctx, "error")
		c.metrics.RecordProviderError(ctx, "actuator", "trigger")
		log.Warn("actuation failed", "err", err)
	} else {
		c.metrics.RecordTrigger(ctx, "ok")
		log.Info("actuation triggered", "cooldown", pol.Cooldown)
	}
	c.publish(ev)
	c.publishState(StateCooldown)
}

func (c *Controller) recordVerification(r *run, v Verification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == r {
		c.lastVerify = &v
	}
}

func (c *Controller) publishVerification(v Verification) {
	c.publish(telemetry.Event{
		Kind:       telemetry.KindVerification,
		Matched:    v.Matched,
		Similarity: v.Similarity,
		Detail:     string(v.Label),
		Error:      v.Error,
	})
}
