//go:build !cgo

package onnx

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicegate/internal/onnxrt"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
)

// Option is a functional option for Provider.
type Option func()

// WithLibraryPath is accepted for API compatibility.
func WithLibraryPath(string) Option { return func() {} }

// WithInputName is accepted for API compatibility.
func WithInputName(string) Option { return func() {} }

// WithOutputName is accepted for API compatibility.
func WithOutputName(string) Option { return func() {} }

// Provider is unavailable without cgo.
type Provider struct{}

// New always fails in builds without cgo.
func New(string, ...Option) (*Provider, error) {
	return nil, fmt.Errorf("onnx classifier: %w", onnxrt.ErrUnavailable)
}

// Classify implements classify.Provider.
func (p *Provider) Classify(context.Context, []float32) (classify.Label, error) {
	return "", fmt.Errorf("onnx classifier: %w", onnxrt.ErrUnavailable)
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }
