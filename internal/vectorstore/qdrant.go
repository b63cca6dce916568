package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace seeds a deterministic UUIDv5 per chunk_id, since Qdrant
// point IDs must be an unsigned integer or a UUID and chunk_id (document_id
// + ordinal) is neither.
var pointNamespace = uuid.MustParse("6f9eb6c0-2e0a-4b3e-9a7f-9d9c7b9b6e31")

// QdrantStore implements VectorStore against a Qdrant cluster, one
// collection per tenant named "tenant_<tenant_id>".
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a Qdrant client. grpcURL is "host:port"
// (e.g., "localhost:6334").
func NewQdrantStore(grpcURL string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(grpcURL)
	if err != nil {
		host = grpcURL
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) collectionName(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// EnsureCollection creates the tenant's collection if absent.
func (s *QdrantStore) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	name := s.collectionName(tenantID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes records into the tenant's collection.
func (s *QdrantStore) Upsert(ctx context.Context, tenantID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name := s.collectionName(tenantID)

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*qdrant.Value{
			"chunk_id":    qdrant.NewValueString(r.ChunkID),
			"content":     qdrant.NewValueString(r.Content),
			"document_id": qdrant.NewValueString(r.DocumentID),
		}
		for k, v := range r.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}

		pointID := uuid.NewSHA1(pointNamespace, []byte(r.ChunkID)).String()
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

// DeleteByDocument removes every point tagged with documentID.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	name := s.collectionName(tenantID)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// HealthCheck reports whether the Qdrant cluster answers a listing call.
func (s *QdrantStore) HealthCheck(ctx context.Context) bool {
	_, err := s.client.ListCollections(ctx)
	return err == nil
}

var _ VectorStore = (*QdrantStore)(nil)
