// Package storestage implements the Store stage described in spec.md
// §4.9: batched Upsert calls into the tenant-scoped vector store, with a
// partial-batch failure failing the whole stage.
package storestage

import (
	"context"
	"errors"
	"fmt"

	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/vectorstore"
)

// Config holds the Store stage's tunables.
type Config struct {
	BatchSize int
}

// DefaultConfig returns a conservative default batch size matching
// providers' preferred upsert sizes.
func DefaultConfig() Config {
	return Config{BatchSize: 100}
}

// Stage writes embedded chunks into the vector store.
type Stage struct {
	cfg   Config
	store vectorstore.VectorStore
}

// New constructs a Store stage.
func New(cfg Config, store vectorstore.VectorStore) *Stage {
	return &Stage{cfg: cfg, store: store}
}

// Run stores every chunk's embedding, taking content and document_id from
// the Chunk's own fields, zipped to embeddings by chunk_id. Returns the count
// of documents represented among the stored chunks.
func (s *Stage) Run(ctx context.Context, tenantID string, chunks []pipeline.Chunk, embeddings []pipeline.Embedding, dimension int) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := s.store.EnsureCollection(ctx, tenantID, dimension); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return 0, pipeline.Cancelledf("ensure collection cancelled for tenant %s: %v", tenantID, err)
		}
		return 0, pipeline.Transientf(err, "failed to ensure vector collection for tenant %s", tenantID)
	}

	vectorByChunkID := make(map[string][]float32, len(embeddings))
	for _, e := range embeddings {
		vectorByChunkID[e.ChunkID] = e.Vector
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	documents := map[string]struct{}{}
	for _, c := range chunks {
		vector, ok := vectorByChunkID[c.ChunkID]
		if !ok {
			return 0, pipeline.Internalf(fmt.Errorf("no embedding found for chunk %s", c.ChunkID), "embedding/chunk mismatch")
		}
		documents[c.DocumentID] = struct{}{}
		records = append(records, vectorstore.Record{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Vector:     vector,
			Content:    c.Content,
			Metadata:   c.Metadata,
		})
	}

	for _, batch := range batchRecords(records, s.cfg.BatchSize) {
		if err := s.store.Upsert(ctx, tenantID, batch); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return 0, pipeline.Cancelledf("upsert of %d chunks cancelled: %v", len(batch), err)
			}
			return 0, pipeline.Transientf(err, "failed to store a batch of %d chunks", len(batch))
		}
	}

	return len(documents), nil
}

func batchRecords(records []vectorstore.Record, batchSize int) [][]vectorstore.Record {
	if batchSize <= 0 {
		batchSize = len(records)
	}
	var batches [][]vectorstore.Record
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}
