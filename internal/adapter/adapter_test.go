package adapter

import (
	"context"
	"testing"

	"github.com/docingest/pipeline/internal/pipeline"
)

func TestEnsureUniqueDocumentIDs_AssignsIDWhenMissing(t *testing.T) {
	docs := []pipeline.RawDocument{{Content: "hello"}}
	EnsureUniqueDocumentIDs(docs)
	if docs[0].DocumentID == "" {
		t.Error("expected a deterministic document ID to be assigned")
	}
}

func TestEnsureUniqueDocumentIDs_DeduplicatesDuplicateIDs(t *testing.T) {
	docs := []pipeline.RawDocument{
		{DocumentID: "same", Content: "a"},
		{DocumentID: "same", Content: "b"},
		{DocumentID: "same", Content: "c"},
	}
	EnsureUniqueDocumentIDs(docs)

	seen := map[string]bool{}
	for _, d := range docs {
		if seen[d.DocumentID] {
			t.Errorf("expected all document IDs unique, got duplicate %s", d.DocumentID)
		}
		seen[d.DocumentID] = true
	}
	if docs[0].DocumentID != "same" {
		t.Errorf("expected the first occurrence to keep its original ID, got %s", docs[0].DocumentID)
	}
}

func TestEnsureUniqueDocumentIDs_DeterministicAcrossCalls(t *testing.T) {
	docsA := []pipeline.RawDocument{{Content: "same content"}}
	docsB := []pipeline.RawDocument{{Content: "same content"}}
	EnsureUniqueDocumentIDs(docsA)
	EnsureUniqueDocumentIDs(docsB)

	if docsA[0].DocumentID != docsB[0].DocumentID {
		t.Errorf("expected the fallback ID to be deterministic for identical content, got %s vs %s", docsA[0].DocumentID, docsB[0].DocumentID)
	}
}

type fakeAdapter struct {
	validateErr error
	docs        []pipeline.RawDocument
	fetchErr    error
}

func (f *fakeAdapter) Validate(params Params) error { return f.validateErr }
func (f *fakeAdapter) Fetch(ctx context.Context, params Params) ([]pipeline.RawDocument, error) {
	return f.docs, f.fetchErr
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeAdapter) SupportedFormats() []string            { return []string{"text/plain"} }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{}
	r.Register(pipeline.SourceFileUpload, a)

	got, ok := r.Get(pipeline.SourceFileUpload)
	if !ok {
		t.Fatal("expected the registered adapter to be found")
	}
	if got != a {
		t.Error("expected the exact registered instance back")
	}

	if _, ok := r.Get(pipeline.SourceSECEdgar); ok {
		t.Error("expected no adapter registered for an unregistered source")
	}
}
