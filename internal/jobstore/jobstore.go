// Package jobstore defines the durable, queryable Job Store contract
// described in spec.md §4.1.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/docingest/pipeline/internal/pipeline"
)

// ErrConflict is returned by Create when job_id already exists.
var ErrConflict = errors.New("jobstore: job already exists")

// ErrNotFound is returned by point lookups that find no matching row.
var ErrNotFound = errors.New("jobstore: job not found")

// Filter narrows ListJobs to a subset of jobs. Zero-value fields are not
// applied as filters.
type Filter struct {
	TenantID      string
	Status        pipeline.Status
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// MaxPageSize is the hard cap on ListJobs page_size, per spec.md §4.1.
const MaxPageSize = 1000

// Store is the durable job record contract. Implementations must provide
// the indexes spec.md §4.1 names: unique(job_id), secondary(correlation_id),
// composite (tenant_id,status), (tenant_id,created_at), (status,created_at).
type Store interface {
	CreateJob(ctx context.Context, job *pipeline.Job) error
	GetJob(ctx context.Context, jobID string) (*pipeline.Job, error)
	UpdateJob(ctx context.Context, jobID string, patch pipeline.JobPatch) (*pipeline.Job, error)
	ListJobs(ctx context.Context, filter Filter, page, pageSize int) ([]*pipeline.Job, int, error)
	HealthCheck(ctx context.Context) bool
}
