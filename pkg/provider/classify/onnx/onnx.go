//go:build cgo

// Package onnx provides a classify.Provider backed by a three-way ONNX gender
// classifier taking a [1, dimensions] embedding and producing [1, 3] scores.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voicegate/internal/onnxrt"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
)

const numClasses = 3

var _ classify.Provider = (*Provider)(nil)

type config struct {
	libPath    string
	inputName  string
	outputName string
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

// Provider runs the classifier model. It is safe for concurrent use.
type Provider struct {
	mu        sync.Mutex
	sess      *ort.DynamicAdvancedSession
	closeOnce sync.Once
	closeErr  error
}

// New loads the classifier at modelPath.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx classifier: model path is required")
	}
	cfg := &config{inputName: "input", outputName: "output"}
	for _, o := range opts {
		o(cfg)
	}
	if err := onnxrt.Acquire(cfg.libPath); err != nil {
		return nil, fmt.Errorf("onnx classifier: %w", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{cfg.inputName}, []string{cfg.outputName}, nil)
	if err != nil {
		onnxrt.Release()
		return nil, fmt.Errorf("onnx classifier: create session: %w", err)
	}
	return &Provider{sess: sess}, nil
}

// Classify implements classify.Provider. The label is the argmax of the
// three class scores.
func (p *Provider) Classify(ctx context.Context, embedding []float32) (classify.Label, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(embedding) == 0 {
		return "", fmt.Errorf("onnx classifier: empty embedding")
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(embedding))), append([]float32(nil), embedding...))
	if err != nil {
		return "", fmt.Errorf("onnx classifier: input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, numClasses))
	if err != nil {
		return "", fmt.Errorf("onnx classifier: output tensor: %w", err)
	}
	defer output.Destroy()

	p.mu.Lock()
	err = p.sess.Run([]ort.Value{input}, []ort.Value{output})
	p.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("onnx classifier: run: %w", err)
	}
	return classify.LabelFromIndex(argmax(output.GetData())), nil
}

// Close releases the model session.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.sess.Destroy(); err != nil {
			p.closeErr = fmt.Errorf("onnx classifier: destroy session: %w", err)
		}
		onnxrt.Release()
	})
	return p.closeErr
}

func argmax(v []float32) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
