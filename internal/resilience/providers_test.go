package resilience

import (
	"context"
	"errors"
	"testing"

	actuatemock "github.com/MrWong99/voicegate/pkg/provider/actuate/mock"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	classifymock "github.com/MrWong99/voicegate/pkg/provider/classify/mock"
	embeddingmock "github.com/MrWong99/voicegate/pkg/provider/embedding/mock"
)

func TestEmbeddingGuard_Failover(t *testing.T) {
	primary := &embeddingmock.Provider{EmbedErr: errors.New("model crashed"), DimensionsResult: 3, ModelIDResult: "ecapa"}
	secondary := &embeddingmock.Provider{EmbedResult: []float32{1, 2, 3}}

	g := NewEmbeddingGuard(primary, "onnx", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	g.AddFallback("backup", secondary)

	got, err := g.Embed(context.Background(), [][]float32{{0}})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Errorf("embedding = %v", got)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if g.Dimensions() != 3 || g.ModelID() != "ecapa" {
		t.Errorf("metadata should come from the primary: %d %q", g.Dimensions(), g.ModelID())
	}
}

func TestEmbeddingGuard_OpensAfterFailures(t *testing.T) {
	p := &embeddingmock.Provider{EmbedErr: errors.New("down")}
	g := NewEmbeddingGuard(p, "onnx", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2}})
	for range 2 {
		g.Embed(context.Background(), nil)
	}
	_, err := g.Embed(context.Background(), nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.CallCount())
	}
	if g.States()["onnx"] != StateOpen {
		t.Errorf("state = %v", g.States()["onnx"])
	}
}

func TestClassifierGuard(t *testing.T) {
	p := &classifymock.Provider{ClassifyResult: classify.LabelFemale}
	g := NewClassifierGuard(p, "onnx", FallbackConfig{})
	got, err := g.Classify(context.Background(), []float32{1})
	if err != nil || got != classify.LabelFemale {
		t.Fatalf("Classify = %q, %v", got, err)
	}
}

func TestActuatorFallback(t *testing.T) {
	primary := &actuatemock.Actuator{TriggerErr: errors.New("503")}
	secondary := &actuatemock.Actuator{}
	f := NewActuatorFallback(primary, "main", FallbackConfig{})
	f.AddFallback("backup", secondary)

	if err := f.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if primary.Calls() != 1 || secondary.Calls() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.Calls(), secondary.Calls())
	}
}
