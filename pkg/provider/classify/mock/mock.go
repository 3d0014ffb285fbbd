// Package mock provides a test double for classify.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/provider/classify"
)

// Provider is a mock implementation of classify.Provider.
type Provider struct {
	mu sync.Mutex

	// ClassifyResult is returned by every Classify call.
	ClassifyResult classify.Label

	// ClassifyErr, if non-nil, is returned by Classify.
	ClassifyErr error

	// ClassifyCalls records a copy of every embedding passed to Classify.
	ClassifyCalls [][]float32
}

// Classify records the call and returns ClassifyResult, ClassifyErr.
func (p *Provider) Classify(_ context.Context, embedding []float32) (classify.Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls = append(p.ClassifyCalls, append([]float32(nil), embedding...))
	if p.ClassifyErr != nil {
		return "", p.ClassifyErr
	}
	return p.ClassifyResult, nil
}

// CallCount returns the number of Classify calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ClassifyCalls)
}

var _ classify.Provider = (*Provider)(nil)
