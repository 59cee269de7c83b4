package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder implements Embedder over Ollama's local embedding API.
// The default model all-minilm produces 384-dim vectors, matching the
// store's vector columns; nomic-embed-text (768d) and mxbai-embed-large
// (1024d) need a schema dimension change.
type OllamaEmbedder struct {
	endpoint   string // e.g. http://localhost:11434
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaEmbedder creates an Ollama embedding driver.
func NewOllamaEmbedder(endpoint, model string, dimensions int) *OllamaEmbedder {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "all-minilm"
	}
	if dimensions <= 0 {
		dimensions = 384
	}
	return &OllamaEmbedder{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *OllamaEmbedder) Kind() string    { return "ollama" }
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates a vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates vectors for several texts in one API call.
// Blank inputs yield the zero vector without touching the model.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var nonBlank []string
	var positions []int
	for i, t := range texts {
		if isBlank(t) {
			out[i] = zeroVector(e.dimensions)
			continue
		}
		nonBlank = append(nonBlank, t)
		positions = append(positions, i)
	}
	if len(nonBlank) == 0 {
		return out, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: nonBlank})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed API returned %d: %s", resp.StatusCode, data)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(nonBlank) {
		return nil, fmt.Errorf("embed API returned %d vectors for %d texts",
			len(parsed.Embeddings), len(nonBlank))
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("embed API returned %d-dim vector, expected %d",
				len(vec), e.dimensions)
		}
		out[positions[i]] = vec
	}
	return out, nil
}

// HealthCheck verifies the API is reachable.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding API unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding API returned %d", resp.StatusCode)
	}
	return nil
}
