// Package embedder provides interfaces and implementations for text embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// ModelConfig holds configuration for a specific embedding model. Chunk
// sizing is owned by chunk.Config (ChunkSize/Overlap, per spec.md §6's
// documented 500/50-token defaults), not by the model, so this only
// carries what HTTPEmbedder actually needs to size its output vectors.
type ModelConfig struct {
	Dimension int // Embedding dimension
}

// KnownModels maps embedding model names to their configurations.
var KnownModels = map[string]ModelConfig{
	"text-embedding-3-small": {Dimension: 1536},
	"text-embedding-3-large": {Dimension: 3072},
	"text-embedding-ada-002": {Dimension: 1536},
	"voyage-2":               {Dimension: 1024},
}

// GetModelConfig returns the configuration for a model, or a conservative
// default dimension if the model is unrecognized.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	return ModelConfig{Dimension: 768}
}
