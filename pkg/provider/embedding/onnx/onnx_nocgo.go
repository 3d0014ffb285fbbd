//go:build !cgo

package onnx

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicegate/internal/onnxrt"
)

// DefaultDimensions is the embedding size of the ECAPA-style models the
// gate ships with.
const DefaultDimensions = 192

// Option is a functional option for Provider.
type Option func()

// WithLibraryPath is accepted for API compatibility.
func WithLibraryPath(string) Option { return func() {} }

// WithInputName is accepted for API compatibility.
func WithInputName(string) Option { return func() {} }

// WithOutputName is accepted for API compatibility.
func WithOutputName(string) Option { return func() {} }

// WithDimensions is accepted for API compatibility.
func WithDimensions(int) Option { return func() {} }

// Provider is unavailable without cgo.
type Provider struct{}

// New always fails in builds without cgo.
func New(string, ...Option) (*Provider, error) {
	return nil, fmt.Errorf("onnx embedding: %w", onnxrt.ErrUnavailable)
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(context.Context, [][]float32) ([]float32, error) {
	return nil, fmt.Errorf("onnx embedding: %w", onnxrt.ErrUnavailable)
}

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int { return 0 }

// ModelID implements embedding.Provider.
func (p *Provider) ModelID() string { return "" }

// Close is a no-op.
func (p *Provider) Close() error { return nil }
