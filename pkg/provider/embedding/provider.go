// Package embedding defines the Provider interface for speaker embedding
// backends.
//
// A provider maps a log-mel feature matrix to a fixed-dimension voice
// embedding. Embeddings from one Provider instance are comparable with each
// other by cosine similarity; mixing vectors from different models is
// meaningless.
//
// Implementations must be safe for concurrent use.
package embedding

import "context"

// Provider is the abstraction over any speaker-embedding backend.
type Provider interface {
	// Embed computes the embedding of a [frames][bands] feature matrix. The
	// returned slice has length Dimensions() and is owned by the caller.
	Embed(ctx context.Context, features [][]float32) ([]float32, error)

	// Dimensions returns the fixed length of every embedding.
	Dimensions() int

	// ModelID identifies the underlying model, for logs and metrics.
	ModelID() string
}
