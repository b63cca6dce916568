package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultBaseURL is the default embedding provider API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the default embedding model.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the default embedding dimension for DefaultModel.
	DefaultDimension = 1536

	// DefaultBatchConcurrency is the default value of HTTPConfig.BatchConcurrency.
	DefaultBatchConcurrency = 4
)

// HTTPConfig holds configuration for the HTTP embedding provider client.
type HTTPConfig struct {
	// BaseURL is the provider API base URL (default: DefaultBaseURL).
	BaseURL string

	// APIKey authenticates against the provider, sent as a Bearer token.
	APIKey string

	// Model is the embedding model to use.
	Model string

	// Dimension is the embedding dimension for Model.
	Dimension int

	// BatchConcurrency is stored on the embedder but not read: EmbedBatch
	// sends each call's inputs as one request.
	BatchConcurrency int

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HTTPEmbedder implements Embedder against an OpenAI-compatible embeddings
// endpoint (POST {base_url}/embeddings, body {model, input}), the provider
// shape named by spec.md's embedding_provider_api_key/embedding_model
// configuration knobs.
type HTTPEmbedder struct {
	baseURL          string
	apiKey           string
	model            string
	dimension        int
	batchConcurrency int
	client           *http.Client
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewHTTPEmbedder creates an HTTP embedding client with the given configuration.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = GetModelConfig(model).Dimension
	}

	batchConcurrency := cfg.BatchConcurrency
	if batchConcurrency <= 0 {
		batchConcurrency = DefaultBatchConcurrency
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPEmbedder{
		baseURL:          baseURL,
		apiKey:           cfg.APIKey,
		model:            model,
		dimension:        dimension,
		batchConcurrency: batchConcurrency,
		client:           client,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("empty embedding returned for single text")
	}
	return results[0], nil
}

// EmbedBatch generates embedding vectors for multiple text inputs in a
// single request, in the same order as texts.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	reqBody := embeddingRequest{Model: e.model, Input: texts}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/embeddings", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("empty embedding data returned")
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

// ModelName returns the name of the embedding model being used.
func (e *HTTPEmbedder) ModelName() string { return e.model }

var _ Embedder = (*HTTPEmbedder)(nil)
