//go:build cgo

// Package onnx provides an embedding.Provider that runs a speaker-embedding
// ONNX model exported with a [1, frames, mels] float input and a
// [1, dimensions] float output.
package onnx

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voicegate/internal/onnxrt"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
)

// DefaultDimensions is the embedding size of the ECAPA-style models the
// gate ships with.
const DefaultDimensions = 192

var _ embedding.Provider = (*Provider)(nil)

type config struct {
	libPath    string
	inputName  string
	outputName string
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithLibraryPath sets the ONNX Runtime shared library location.
func WithLibraryPath(p string) Option { return func(c *config) { c.libPath = p } }

// WithInputName overrides the model input name (default "input").
func WithInputName(n string) Option {
	return func(c *config) {
		if n != "" {
			c.inputName = n
		}
	}
}

// WithOutputName overrides the model output name (default "output").
func WithOutputName(n string) Option {
	return func(c *config) {
		if n != "" {
			c.outputName = n
		}
	}
}

// WithDimensions sets the embedding length produced by the model.
func WithDimensions(d int) Option {
	return func(c *config) {
		if d > 0 {
			c.dimensions = d
		}
	}
}

// Provider runs the embedding model. Inference is serialised with a mutex;
// it is safe for concurrent use.
type Provider struct {
	mu        sync.Mutex
	sess      *ort.DynamicAdvancedSession
	dims      int
	model     string
	closeOnce sync.Once
	closeErr  error
}

// New loads the model at modelPath.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx embedding: model path is required")
	}
	cfg := &config{inputName: "input", outputName: "output", dimensions: DefaultDimensions}
	for _, o := range opts {
		o(cfg)
	}
	if err := onnxrt.Acquire(cfg.libPath); err != nil {
		return nil, fmt.Errorf("onnx embedding: %w", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{cfg.inputName}, []string{cfg.outputName}, nil)
	if err != nil {
		onnxrt.Release()
		return nil, fmt.Errorf("onnx embedding: create session: %w", err)
	}
	return &Provider{sess: sess, dims: cfg.dimensions, model: filepath.Base(modelPath)}, nil
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, features [][]float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 || len(features[0]) == 0 {
		return nil, fmt.Errorf("onnx embedding: empty feature matrix")
	}
	frames, bands := len(features), len(features[0])
	flat := make([]float32, 0, frames*bands)
	for i, row := range features {
		if len(row) != bands {
			return nil, fmt.Errorf("onnx embedding: row %d has %d bands, want %d", i, len(row), bands)
		}
		flat = append(flat, row...)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(frames), int64(bands)), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx embedding: input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.dims)))
	if err != nil {
		return nil, fmt.Errorf("onnx embedding: output tensor: %w", err)
	}
	defer output.Destroy()

	p.mu.Lock()
	err = p.sess.Run([]ort.Value{input}, []ort.Value{output})
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx embedding: run: %w", err)
	}
	return append([]float32(nil), output.GetData()...), nil
}

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embedding.Provider.
func (p *Provider) ModelID() string { return p.model }

// Close releases the model session.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.sess.Destroy(); err != nil {
			p.closeErr = fmt.Errorf("onnx embedding: destroy session: %w", err)
		}
		onnxrt.Release()
	})
	return p.closeErr
}
