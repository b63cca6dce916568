// Package embedstage implements the Embed stage described in spec.md §4.8:
// batched, bounded-concurrency embedding calls through the rate limiter and
// retry executor, with all-or-nothing failure per job.
package embedstage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docingest/pipeline/internal/embedder"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
	"github.com/docingest/pipeline/internal/retry"
)

const rateLimitKey = "embedding"

// Config holds the Embed stage's tunables.
type Config struct {
	BatchSize      int
	MaxWorkers     int
	UnitCostPerTok float64
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 100, MaxWorkers: 4, UnitCostPerTok: 0}
}

// Stage embeds chunks in bounded-concurrency batches.
type Stage struct {
	cfg     Config
	embed   embedder.Embedder
	limiter *ratelimit.Limiter
	retryer *retry.Executor
}

// New constructs an Embed stage.
func New(cfg Config, embed embedder.Embedder, limiter *ratelimit.Limiter, retryer *retry.Executor) *Stage {
	return &Stage{cfg: cfg, embed: embed, limiter: limiter, retryer: retryer}
}

// Result is the Embed stage's output: one Embedding per input chunk, plus
// the accumulated cost across all batches.
type Result struct {
	Embeddings    []pipeline.Embedding
	EstimatedCost float64
}

// Run embeds all chunks. Any batch's terminal failure fails the whole
// call; no partial embeddings are returned, per spec.md §4.8.
func (s *Stage) Run(ctx context.Context, chunks []pipeline.Chunk) (*Result, error) {
	if len(chunks) == 0 {
		return &Result{}, nil
	}

	batches := batchChunks(chunks, s.cfg.BatchSize)

	maxWorkers := s.cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	semaphore := make(chan struct{}, maxWorkers)

	results := make([][]pipeline.Embedding, len(batches))
	costs := make([]float64, len(batches))
	errs := make([]error, len(batches))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, b []pipeline.Chunk) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errs[idx] = pipeline.Cancelledf("embed batch %d cancelled while waiting for a worker slot", idx)
				return
			}

			embeddings, cost, err := s.runBatch(ctx, b)
			if err != nil {
				errs[idx] = err
				cancel() // abort sibling in-flight batches, per spec.md §4.8
				return
			}
			results[idx] = embeddings
			costs[idx] = cost
		}(i, batch)
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if pipeline.KindOf(err) != pipeline.KindCancelled {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	result := &Result{}
	for i := range results {
		result.Embeddings = append(result.Embeddings, results[i]...)
		result.EstimatedCost += costs[i]
	}
	return result, nil
}

func (s *Stage) runBatch(ctx context.Context, batch []pipeline.Chunk) ([]pipeline.Embedding, float64, error) {
	if err := s.limiter.Wait(ctx, rateLimitKey); err != nil {
		return nil, 0, pipeline.Cancelledf("rate limit wait cancelled: %v", err)
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	var vectors [][]float32
	op := func(ctx context.Context) error {
		v, err := s.embed.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || pipeline.KindOf(err) == pipeline.KindCancelled {
				return pipeline.Cancelledf("embed batch of %d chunks cancelled: %v", len(batch), err)
			}
			return pipeline.Transientf(err, "embedding provider call failed for batch of %d chunks", len(batch))
		}
		if len(v) != len(batch) {
			return pipeline.Internalf(fmt.Errorf("got %d vectors for %d chunks", len(v), len(batch)), "embedding count mismatch")
		}
		vectors = v
		return nil
	}

	var err error
	if s.retryer != nil {
		err = s.retryer.Do(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return nil, 0, err
	}

	modelID := s.embed.ModelName()
	embeddings := make([]pipeline.Embedding, len(batch))
	var totalCost float64
	for i, c := range batch {
		cost := float64(c.TokenCount) * s.cfg.UnitCostPerTok
		totalCost += cost
		embeddings[i] = pipeline.Embedding{
			ChunkID:       c.ChunkID,
			Vector:        vectors[i],
			ModelID:       modelID,
			EstimatedCost: cost,
		}
	}
	return embeddings, totalCost, nil
}

func batchChunks(chunks []pipeline.Chunk, batchSize int) [][]pipeline.Chunk {
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	var batches [][]pipeline.Chunk
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	return batches
}
