// Package embeddings provides text embedding generation for vectord.
//
// The embedding model itself runs out of process (a text-embeddings-inference
// server); this package wraps it behind the Provider interface, guarantees
// unit-length vectors of a fixed dimension, and guards initialization with
// once-semantics so the model handle is shared by all concurrent requests.
package embeddings

import (
	"context"
	"errors"
	"math"
)

// Sentinel errors for embedding operations.
var (
	// ErrModelUnavailable is returned when the embedding model failed to
	// initialize. Permanent for the process lifetime.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates fixed-dimension, unit-length embeddings from text.
//
// Implementations must be safe for concurrent use; a single Provider instance
// is shared by all in-flight requests.
type Provider interface {
	// Encode generates an embedding for a single text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch generates embeddings for multiple texts, one output per
	// input, order-preserving. Semantically equivalent to mapping Encode
	// over the inputs; batching only amortizes the round trip.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources held by the provider.
	Close() error
}

// normalize scales v to unit Euclidean length in place. Zero vectors are left
// untouched.
func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	inv := 1 / math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
