// Package chunk implements the Chunk stage described in spec.md §4.7:
// TOKEN, SEMANTIC, and HYBRID splitting strategies over cleaned documents,
// producing token-accurate, contiguous-position chunks.
package chunk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/docingest/pipeline/internal/embedder"
	"github.com/docingest/pipeline/internal/pipeline"
)

// Strategy selects one of spec.md §4.7's three chunking algorithms.
type Strategy string

const (
	StrategyToken    Strategy = "token"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// Config holds the Chunk stage's tunables, per spec.md §6.
type Config struct {
	ChunkSize           int
	Overlap             int
	Strategy            Strategy
	SimilarityThreshold float64
	TokenizerModel      string
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           500,
		Overlap:             50,
		Strategy:            StrategyHybrid,
		SimilarityThreshold: 0.5,
		TokenizerModel:      "text-embedding-3-small",
	}
}

// Stage splits CleanedDocuments into Chunks.
type Stage struct {
	cfg       Config
	tokenizer Tokenizer
	embedder  embedder.Embedder // only required for SEMANTIC/HYBRID
}

// New constructs a Chunk stage. embed may be nil if cfg.Strategy is
// StrategyToken; SEMANTIC and HYBRID require it.
func New(cfg Config, tokenizer Tokenizer, embed embedder.Embedder) (*Stage, error) {
	if cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk: overlap (%d) must be less than chunk_size (%d)", cfg.Overlap, cfg.ChunkSize)
	}
	if (cfg.Strategy == StrategySemantic || cfg.Strategy == StrategyHybrid) && embed == nil {
		return nil, fmt.Errorf("chunk: strategy %s requires an embedder", cfg.Strategy)
	}
	return &Stage{cfg: cfg, tokenizer: tokenizer, embedder: embed}, nil
}

// Run splits one document into position-ordered chunks.
func (s *Stage) Run(ctx context.Context, doc pipeline.CleanedDocument) ([]pipeline.Chunk, error) {
	var texts []string
	var err error

	switch s.cfg.Strategy {
	case StrategyToken:
		texts = s.chunkByToken(doc.Content)
	case StrategySemantic, StrategyHybrid:
		texts, err = s.chunkBySemantic(ctx, doc.Content)
	default:
		return nil, fmt.Errorf("chunk: unknown strategy %q", s.cfg.Strategy)
	}
	if err != nil {
		return nil, err
	}

	chunks := make([]pipeline.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, pipeline.Chunk{
			ChunkID:    fmt.Sprintf("%s-%d", doc.DocumentID, i),
			DocumentID: doc.DocumentID,
			Content:    t,
			TokenCount: s.tokenizer.Count(t),
			Position:   i,
			Metadata:   doc.Metadata,
		})
	}
	return chunks, nil
}

// chunkByToken implements the TOKEN strategy: a sliding token window that
// snaps its right edge to the nearest sentence end within the last 20% of
// the window, per spec.md §4.7.
func (s *Stage) chunkByToken(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	tokens := s.tokenizer.Encode(text)
	total := len(tokens)
	if total == 0 {
		return nil
	}

	sentenceEnds := s.sentenceEndTokenOffsets(text, tokens)

	chunkSize := s.cfg.ChunkSize
	overlap := s.cfg.Overlap
	snapWindow := int(math.Ceil(float64(chunkSize) * 0.2))

	var out []string
	start := 0
	for start < total {
		end := start + chunkSize
		if end > total {
			end = total
		} else {
			if snapped, ok := nearestSentenceEnd(sentenceEnds, end-snapWindow, end); ok && snapped > start {
				end = snapped
			}
		}

		out = append(out, s.tokenizer.Decode(tokens[start:end]))

		if end >= total {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// sentenceEndTokenOffsets maps each sentence boundary (by character offset)
// onto its corresponding token index, by re-encoding the prefix up to that
// boundary. This is O(sentences) re-encodes, acceptable at document scale.
func (s *Stage) sentenceEndTokenOffsets(text string, fullTokens []int) []int {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	offsets := make([]int, 0, len(sentences))
	cursor := 0
	for _, sent := range sentences {
		idx := strings.Index(text[cursor:], sent)
		if idx < 0 {
			continue
		}
		cursor = cursor + idx + len(sent)
		prefixTokens := s.tokenizer.Encode(text[:cursor])
		offsets = append(offsets, len(prefixTokens))
	}
	return offsets
}

// nearestSentenceEnd returns the largest sentence-end offset within
// [lo, hi], if any.
func nearestSentenceEnd(ends []int, lo, hi int) (int, bool) {
	best := -1
	for _, e := range ends {
		if e >= lo && e <= hi && e > best {
			best = e
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// chunkBySemantic implements the SEMANTIC/HYBRID strategies: sentence
// embeddings, adjacent cosine similarity, boundary placement below
// similarity_threshold, then a TOKEN-strategy post-split of any
// over-length run, per spec.md §4.7.
func (s *Stage) chunkBySemantic(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return s.splitRunIfNeeded(sentences[0]), nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to embed sentences for semantic boundary detection: %w", err)
	}

	var runs [][]string
	currentRun := []string{sentences[0]}
	for i := 1; i < len(sentences); i++ {
		sim := cosineSimilarity(vectors[i-1], vectors[i])
		if sim < s.cfg.SimilarityThreshold {
			runs = append(runs, currentRun)
			currentRun = []string{sentences[i]}
		} else {
			currentRun = append(currentRun, sentences[i])
		}
	}
	runs = append(runs, currentRun)

	var out []string
	for _, run := range runs {
		joined := strings.Join(run, " ")
		out = append(out, s.splitRunIfNeeded(joined)...)
	}
	return out, nil
}

// splitRunIfNeeded keeps a semantic run as one chunk if it fits chunk_size,
// otherwise post-splits it with the TOKEN strategy.
func (s *Stage) splitRunIfNeeded(run string) []string {
	if s.tokenizer.Count(run) <= s.cfg.ChunkSize {
		return []string{run}
	}
	return s.chunkByToken(run)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
