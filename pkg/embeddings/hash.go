package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, dependency-free Embedder used in tests.
// It hashes word n-grams into a fixed number of buckets and L2-normalises,
// so identical texts score 1.0 and unrelated texts score near 0.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash-based embedder of the given dimension.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) Kind() string    { return "hash" }
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Embed produces a deterministic vector for the text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if isBlank(text) {
		return zeroVector(e.dimensions), nil
	}

	vec := make([]float64, e.dimensions)
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		addToken(vec, w)
		if i+1 < len(words) {
			addToken(vec, w+" "+words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// HealthCheck always succeeds.
func (e *HashEmbedder) HealthCheck(context.Context) error { return nil }

func addToken(vec []float64, token string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	bucket := int(sum % uint64(len(vec)))
	// The hash's top bit decides sign, which keeps the buckets roughly balanced.
	if (sum>>63)&1 == 1 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}
