// Package vectorstore provides the Store stage's interface to the external
// vector database, per spec.md §4.9: tenant-scoped collections and a
// single Upsert entry point.
package vectorstore

import "context"

// Record is one chunk's embedding bound for storage, the shape spec.md
// §4.9's Upsert signature names as (chunk_id, vector, content, metadata).
type Record struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
	Content    string
	Metadata   map[string]string
}

// VectorStore is the Store stage's collaborator contract. The tenant
// dimension is always explicit; implementations guarantee tenant isolation
// (spec.md §4.9), typically via one backing collection per tenant.
type VectorStore interface {
	// EnsureCollection creates the tenant's collection if it doesn't
	// already exist, sized for dimension.
	EnsureCollection(ctx context.Context, tenantID string, dimension int) error

	// Upsert inserts or updates records in a tenant's collection. Callers
	// group records into provider-preferred batch sizes before calling;
	// a partial failure within a batch fails the whole call.
	Upsert(ctx context.Context, tenantID string, records []Record) error

	// DeleteByDocument removes every record belonging to one document. No
	// pipeline stage calls it; batches already upserted stay in place when
	// a later Store-stage batch fails.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error

	// HealthCheck reports whether the backing store is currently reachable.
	HealthCheck(ctx context.Context) bool
}
