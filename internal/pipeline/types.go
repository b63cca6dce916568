// Package pipeline defines the domain model shared by every stage of the
// ingestion pipeline: jobs, raw/cleaned documents, chunks, embeddings, and
// the error taxonomy stages use to report failure to the orchestrator.
package pipeline

import (
	"time"
)

// Source identifies which adapter a job's FETCH stage should use.
type Source string

const (
	SourceFileUpload Source = "file_upload"
	SourceSECEdgar   Source = "sec_edgar"
	SourceURLScrape  Source = "url_scrape"
	SourceAPIFetch   Source = "api_fetch"
	SourceDBQuery    Source = "database_query"
)

// Status is a job's lifecycle state. Status only ever advances along
// stageOrder or jumps to a terminal state; it never regresses.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFetching  Status = "FETCHING"
	StatusCleaning  Status = "CLEANING"
	StatusChunking  Status = "CHUNKING"
	StatusEmbedding Status = "EMBEDDING"
	StatusStoring   Status = "STORING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// stageOrder gives the relative rank of each in-progress status. A status
// transition is valid only if it moves to a strictly higher rank, or to one
// of the terminal statuses (FAILED, CANCELLED, COMPLETED).
var stageOrder = map[Status]int{
	StatusPending:   0,
	StatusFetching:  1,
	StatusCleaning:  2,
	StatusChunking:  3,
	StatusEmbedding: 4,
	StatusStoring:   5,
	StatusCompleted: 6,
}

// IsTerminal reports whether s is one of the pipeline's terminal statuses.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// status transition per spec: monotonic advance along stageOrder, or a
// jump to FAILED/CANCELLED from any non-terminal state.
func CanTransition(from, to Status) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	fromRank, fromOK := stageOrder[from]
	toRank, toOK := stageOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank > fromRank
}

// StageName identifies one of the five pipeline stages, used in
// Job.StagesCompleted and telemetry events.
type StageName string

const (
	StageFetch StageName = "FETCH"
	StageClean StageName = "CLEAN"
	StageChunk StageName = "CHUNK"
	StageEmbed StageName = "EMBED"
	StageStore StageName = "STORE"
)

// Job is the durable unit of work tracked by the Job Store.
type Job struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
	Source        Source `json:"source"`
	TenantID      string `json:"tenant_id"`

	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`

	DocumentsStored     int `json:"documents_stored"`
	ChunksCreated       int `json:"chunks_created"`
	EmbeddingsGenerated int `json:"embeddings_generated"`

	ErrorMessage     string            `json:"error_message,omitempty"`
	StagesCompleted  []StageName       `json:"stages_completed"`
	SourceParams     map[string]any    `json:"source_params"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// JobPatch is a partial update applied to a Job record. Only non-nil
// fields are written; the Job Store does not interpret zero values as
// "unset" since 0 is a legitimate counter value.
type JobPatch struct {
	Status              *Status
	CompletedAt         *time.Time
	DurationMS          *int64
	DocumentsStored     *int
	ChunksCreated       *int
	EmbeddingsGenerated *int
	ErrorMessage        *string
	AppendStage         *StageName
}

// RawDocument is a single fetched payload, not yet cleaned or chunked.
type RawDocument struct {
	DocumentID      string
	Content         string
	ContentBytesLen int
	Metadata        map[string]string
	TenantID        string
}

// CleanedDocument has the same shape as RawDocument with normalized content.
type CleanedDocument struct {
	DocumentID string
	Content    string
	Metadata   map[string]string
	TenantID   string
}

// Chunk is one bounded-token segment of a single cleaned document.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Content    string
	TokenCount int
	Position   int
	Metadata   map[string]string
}

// Embedding binds a vector to a chunk.
type Embedding struct {
	ChunkID       string
	Vector        []float32
	ModelID       string
	EstimatedCost float64
}
