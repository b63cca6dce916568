package storestage

import (
	"context"
	"errors"
	"testing"

	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/vectorstore"
)

type fakeStore struct {
	ensureErr error
	upsertErr error
	upserted  []vectorstore.Record
	ensured   map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{ensured: make(map[string]int)}
}

func (f *fakeStore) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured[tenantID] = dimension
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, tenantID string, records []vectorstore.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, records...)
	return nil
}

func (f *fakeStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	return nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) bool { return true }

func TestStage_Run_EmptyChunks(t *testing.T) {
	store := newFakeStore()
	s := New(DefaultConfig(), store)

	n, err := s.Run(context.Background(), "tenant-1", nil, nil, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 documents stored, got %d", n)
	}
	if len(store.ensured) != 0 {
		t.Error("expected EnsureCollection not called for empty input")
	}
}

func TestStage_Run_StoresAllChunksAndCountsDistinctDocuments(t *testing.T) {
	store := newFakeStore()
	s := New(Config{BatchSize: 2}, store)

	chunks := []pipeline.Chunk{
		{ChunkID: "c1", DocumentID: "doc-1", Content: "a"},
		{ChunkID: "c2", DocumentID: "doc-1", Content: "b"},
		{ChunkID: "c3", DocumentID: "doc-2", Content: "c"},
	}
	embeddings := []pipeline.Embedding{
		{ChunkID: "c1", Vector: []float32{1, 2}},
		{ChunkID: "c2", Vector: []float32{3, 4}},
		{ChunkID: "c3", Vector: []float32{5, 6}},
	}

	n, err := s.Run(context.Background(), "tenant-1", chunks, embeddings, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 distinct documents, got %d", n)
	}
	if len(store.upserted) != 3 {
		t.Errorf("expected 3 records upserted, got %d", len(store.upserted))
	}
	if store.ensured["tenant-1"] != 2 {
		t.Errorf("expected collection ensured with dimension 2, got %d", store.ensured["tenant-1"])
	}
}

func TestStage_Run_MissingEmbeddingFails(t *testing.T) {
	store := newFakeStore()
	s := New(DefaultConfig(), store)

	chunks := []pipeline.Chunk{{ChunkID: "c1", DocumentID: "doc-1"}}
	n, err := s.Run(context.Background(), "tenant-1", chunks, nil, 2)
	if err == nil {
		t.Fatal("expected an error for a chunk with no matching embedding")
	}
	if n != 0 {
		t.Errorf("expected 0 documents on failure, got %d", n)
	}
	if pipeline.KindOf(err) != pipeline.KindInternal {
		t.Errorf("expected KindInternal, got %s", pipeline.KindOf(err))
	}
}

func TestStage_Run_UpsertFailurePropagatesAsTransient(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("vector db unreachable")
	s := New(DefaultConfig(), store)

	chunks := []pipeline.Chunk{{ChunkID: "c1", DocumentID: "doc-1"}}
	embeddings := []pipeline.Embedding{{ChunkID: "c1", Vector: []float32{1}}}

	_, err := s.Run(context.Background(), "tenant-1", chunks, embeddings, 1)
	if err == nil {
		t.Fatal("expected an error when Upsert fails")
	}
	if pipeline.KindOf(err) != pipeline.KindTransient {
		t.Errorf("expected KindTransient, got %s", pipeline.KindOf(err))
	}
}

func TestStage_Run_EnsureCollectionFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = errors.New("collection create failed")
	s := New(DefaultConfig(), store)

	chunks := []pipeline.Chunk{{ChunkID: "c1", DocumentID: "doc-1"}}
	embeddings := []pipeline.Embedding{{ChunkID: "c1", Vector: []float32{1}}}

	_, err := s.Run(context.Background(), "tenant-1", chunks, embeddings, 1)
	if err == nil {
		t.Fatal("expected an error when EnsureCollection fails")
	}
}

func TestStage_Run_UpsertUnderCancelledContextIsClassifiedCancelled(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = context.Canceled
	s := New(DefaultConfig(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []pipeline.Chunk{{ChunkID: "c1", DocumentID: "doc-1"}}
	embeddings := []pipeline.Embedding{{ChunkID: "c1", Vector: []float32{1}}}

	_, err := s.Run(ctx, "tenant-1", chunks, embeddings, 1)
	if err == nil {
		t.Fatal("expected an error when Upsert fails under a cancelled context")
	}
	if pipeline.KindOf(err) != pipeline.KindCancelled {
		t.Errorf("expected KindCancelled, got %s", pipeline.KindOf(err))
	}
}

func TestStage_Run_EnsureCollectionUnderCancelledContextIsClassifiedCancelled(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = context.Canceled
	s := New(DefaultConfig(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []pipeline.Chunk{{ChunkID: "c1", DocumentID: "doc-1"}}
	embeddings := []pipeline.Embedding{{ChunkID: "c1", Vector: []float32{1}}}

	_, err := s.Run(ctx, "tenant-1", chunks, embeddings, 1)
	if err == nil {
		t.Fatal("expected an error when EnsureCollection fails under a cancelled context")
	}
	if pipeline.KindOf(err) != pipeline.KindCancelled {
		t.Errorf("expected KindCancelled, got %s", pipeline.KindOf(err))
	}
}
