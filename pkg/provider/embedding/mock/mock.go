// Package mock provides a test double for embedding.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/provider/embedding"
)

// EmbedCall records a single invocation of Provider.Embed.
type EmbedCall struct {
	// Frames and Bands describe the shape of the matrix that was passed.
	Frames, Bands int
}

// Provider is a mock implementation of embedding.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed (copied) when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedFunc, if set, computes the result instead of EmbedResult.
	EmbedFunc func(features [][]float32) ([]float32, error)

	// EmbedErr, if non-nil, is returned by Embed.
	EmbedErr error

	// DimensionsResult is returned by Dimensions. When zero, the length of
	// EmbedResult is used.
	DimensionsResult int

	// ModelIDResult is returned by ModelID.
	ModelIDResult string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the configured result.
func (p *Provider) Embed(_ context.Context, features [][]float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := EmbedCall{Frames: len(features)}
	if len(features) > 0 {
		call.Bands = len(features[0])
	}
	p.EmbedCalls = append(p.EmbedCalls, call)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(features)
	}
	return append([]float32(nil), p.EmbedResult...), nil
}

// Dimensions returns DimensionsResult or len(EmbedResult).
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DimensionsResult > 0 {
		return p.DimensionsResult
	}
	return len(p.EmbedResult)
}

// ModelID returns ModelIDResult.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDResult
}

// CallCount returns the number of Embed calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

var _ embedding.Provider = (*Provider)(nil)
