// Package embeddings wraps text-to-vector models behind a small interface
// so the store can be exercised with a deterministic stub in tests.
package embeddings

import (
	"context"
	"strings"
)

// Embedder produces fixed-dimension float vectors from text.
// Implementations must return the zero vector for empty or whitespace-only
// input, and every returned vector must have exactly Dimensions() elements.
type Embedder interface {
	Kind() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	HealthCheck(ctx context.Context) error
}

// isBlank reports whether the text embeds to the zero vector by contract.
func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// zeroVector returns an all-zeros vector of the given dimension.
func zeroVector(dims int) []float32 {
	return make([]float32, dims)
}
