package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/actuate"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	device     factories[audio.Device]
	vad        factories[vad.Engine]
	embedding  factories[embedding.Provider]
	classifier factories[classify.Provider]
	actuator   factories[actuate.Actuator]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		device:     newFactories[audio.Device]("device"),
		vad:        newFactories[vad.Engine]("vad"),
		embedding:  newFactories[embedding.Provider]("embedding"),
		classifier: newFactories[classify.Provider]("classifier"),
		actuator:   newFactories[actuate.Actuator]("actuator"),
	}
}

// RegisterDevice registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory Factory[audio.Device]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterEmbedding registers a speaker embedding provider factory under name.
func (r *Registry) RegisterEmbedding(name string, factory Factory[embedding.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedding.m[name] = factory
}

// RegisterClassifier registers a voice classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory Factory[classify.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = factory
}

// RegisterActuator registers an actuator factory under name.
func (r *Registry) RegisterActuator(name string, factory Factory[actuate.Actuator]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actuator.m[name] = factory
}

// CreateDevice instantiates a capture device using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(entry ProviderEntry) (audio.Device, error) {
	return r.device.create(&r.mu, entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(&r.mu, entry)
}

// CreateEmbedding instantiates an embedding provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbedding(entry ProviderEntry) (embedding.Provider, error) {
	return r.embedding.create(&r.mu, entry)
}

// CreateClassifier instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classify.Provider, error) {
	return r.classifier.create(&r.mu, entry)
}

// CreateActuator instantiates an actuator using the factory registered under entry.Name.
func (r *Registry) CreateActuator(entry ProviderEntry) (actuate.Actuator, error) {
	return r.actuator.create(&r.mu, entry)
}
