package resilience

import (
	"context"

	"github.com/MrWong99/voicegate/pkg/provider/actuate"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
)

// EmbeddingGuard implements [embedding.Provider] over a [FallbackGroup] of
// embedding backends. Dimensions and ModelID report the primary.
type EmbeddingGuard struct {
	group *FallbackGroup[embedding.Provider]
}

var _ embedding.Provider = (*EmbeddingGuard)(nil)

// NewEmbeddingGuard wraps primary.
func NewEmbeddingGuard(primary embedding.Provider, name string, cfg FallbackConfig) *EmbeddingGuard {
	return &EmbeddingGuard{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another embedding backend. It must produce vectors
// in the same space as the primary.
func (g *EmbeddingGuard) AddFallback(name string, p embedding.Provider) {
	g.group.AddFallback(name, p)
}

// Embed implements [embedding.Provider].
func (g *EmbeddingGuard) Embed(ctx context.Context, features [][]float32) ([]float32, error) {
	return ExecuteWithResult(ctx, g.group, func(ctx context.Context, p embedding.Provider) ([]float32, error) {
		return p.Embed(ctx, features)
	})
}

// Dimensions implements [embedding.Provider].
func (g *EmbeddingGuard) Dimensions() int { return g.group.Primary().Dimensions() }

// ModelID implements [embedding.Provider].
func (g *EmbeddingGuard) ModelID() string { return g.group.Primary().ModelID() }

// States exposes the per-backend breaker states.
func (g *EmbeddingGuard) States() map[string]State { return g.group.States() }

// ClassifierGuard implements [classify.Provider] over a [FallbackGroup].
type ClassifierGuard struct {
	group *FallbackGroup[classify.Provider]
}

var _ classify.Provider = (*ClassifierGuard)(nil)

// NewClassifierGuard wraps primary.
func NewClassifierGuard(primary classify.Provider, name string, cfg FallbackConfig) *ClassifierGuard {
	return &ClassifierGuard{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another classifier backend.
func (g *ClassifierGuard) AddFallback(name string, p classify.Provider) {
	g.group.AddFallback(name, p)
}

// Classify implements [classify.Provider].
func (g *ClassifierGuard) Classify(ctx context.Context, emb []float32) (classify.Label, error) {
	return ExecuteWithResult(ctx, g.group, func(ctx context.Context, p classify.Provider) (classify.Label, error) {
		return p.Classify(ctx, emb)
	})
}

// States exposes the per-backend breaker states.
func (g *ClassifierGuard) States() map[string]State { return g.group.States() }

// ActuatorFallback implements [actuate.Actuator] over a [FallbackGroup], so a
// trigger can fail over to a secondary endpoint.
type ActuatorFallback struct {
	group *FallbackGroup[actuate.Actuator]
}

var _ actuate.Actuator = (*ActuatorFallback)(nil)

// NewActuatorFallback wraps primary.
func NewActuatorFallback(primary actuate.Actuator, name string, cfg FallbackConfig) *ActuatorFallback {
	return &ActuatorFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another trigger endpoint.
func (f *ActuatorFallback) AddFallback(name string, a actuate.Actuator) {
	f.group.AddFallback(name, a)
}

// Trigger implements [actuate.Actuator].
func (f *ActuatorFallback) Trigger(ctx context.Context) error {
	return f.group.Execute(ctx, func(ctx context.Context, a actuate.Actuator) error {
		return a.Trigger(ctx)
	})
}

// States exposes the per-endpoint breaker states.
func (f *ActuatorFallback) States() map[string]State { return f.group.States() }
