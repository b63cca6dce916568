package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docingest/pipeline/internal/jobstore"
	"github.com/docingest/pipeline/internal/pipeline"
)

// JobRepo implements jobstore.Store on top of a *DB.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// CreateJob inserts a new job record. It fails with jobstore.ErrConflict if
// job_id already exists, per spec.md §4.1. This is one of the two
// operations spec.md requires to surface storage errors to the caller
// (the other is the terminal UpdateJob).
func (r *JobRepo) CreateJob(ctx context.Context, job *pipeline.Job) error {
	stagesJSON, err := json.Marshal(job.StagesCompleted)
	if err != nil {
		return fmt.Errorf("failed to marshal stages_completed: %w", err)
	}
	paramsJSON, err := json.Marshal(job.SourceParams)
	if err != nil {
		return fmt.Errorf("failed to marshal source_params: %w", err)
	}
	metaJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO jobs (job_id, correlation_id, source, tenant_id, status, created_at,
			documents_stored, chunks_created, embeddings_generated, error_message,
			stages_completed, source_params, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		job.JobID, job.CorrelationID, string(job.Source), job.TenantID, string(job.Status), job.CreatedAt,
		job.DocumentsStored, job.ChunksCreated, job.EmbeddingsGenerated, job.ErrorMessage,
		stagesJSON, paramsJSON, metaJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return jobstore.ErrConflict
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by job_id.
func (r *JobRepo) GetJob(ctx context.Context, jobID string) (*pipeline.Job, error) {
	const query = `
		SELECT job_id, correlation_id, source, tenant_id, status, created_at, completed_at,
			duration_ms, documents_stored, chunks_created, embeddings_generated, error_message,
			stages_completed, source_params, metadata
		FROM jobs WHERE job_id = $1
	`
	return r.scanJob(ctx, query, jobID)
}

func (r *JobRepo) scanJob(ctx context.Context, query string, args ...any) (*pipeline.Job, error) {
	var (
		job        pipeline.Job
		source     string
		status     string
		stagesJSON []byte
		paramsJSON []byte
		metaJSON   []byte
	)

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&job.JobID, &job.CorrelationID, &source, &job.TenantID, &status, &job.CreatedAt, &job.CompletedAt,
		&job.DurationMS, &job.DocumentsStored, &job.ChunksCreated, &job.EmbeddingsGenerated, &job.ErrorMessage,
		&stagesJSON, &paramsJSON, &metaJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Source = pipeline.Source(source)
	job.Status = pipeline.Status(status)
	if err := json.Unmarshal(stagesJSON, &job.StagesCompleted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages_completed: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &job.SourceParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source_params: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &job.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &job, nil
}

// UpdateJob applies a partial update to a job record in a single-row
// transaction. It is a no-op (returns nil, nil) if job_id is not found,
// per spec.md §4.1.
func (r *JobRepo) UpdateJob(ctx context.Context, jobID string, patch pipeline.JobPatch) (*pipeline.Job, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	setClauses := make([]string, 0, 8)
	args := make([]any, 0, 8)
	argN := 1

	add := func(clause string, val any) {
		setClauses = append(setClauses, fmt.Sprintf(clause, argN))
		args = append(args, val)
		argN++
	}

	if patch.Status != nil {
		add("status = $%d", string(*patch.Status))
	}
	if patch.CompletedAt != nil {
		add("completed_at = $%d", *patch.CompletedAt)
	}
	if patch.DurationMS != nil {
		add("duration_ms = $%d", *patch.DurationMS)
	}
	if patch.DocumentsStored != nil {
		add("documents_stored = $%d", *patch.DocumentsStored)
	}
	if patch.ChunksCreated != nil {
		add("chunks_created = $%d", *patch.ChunksCreated)
	}
	if patch.EmbeddingsGenerated != nil {
		add("embeddings_generated = $%d", *patch.EmbeddingsGenerated)
	}
	if patch.ErrorMessage != nil {
		add("error_message = $%d", *patch.ErrorMessage)
	}
	if patch.AppendStage != nil {
		stageJSON, _ := json.Marshal(string(*patch.AppendStage))
		add("stages_completed = stages_completed || $%d::jsonb", string(stageJSON))
	}

	if len(setClauses) == 0 {
		tx.Rollback(ctx)
		job, err := r.GetJob(ctx, jobID)
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, nil
		}
		return job, err
	}

	query := "UPDATE jobs SET " + joinClauses(setClauses) + fmt.Sprintf(" WHERE job_id = $%d", argN)
	args = append(args, jobID)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return r.GetJob(ctx, jobID)
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// ListJobs returns jobs matching filter, ordered by created_at descending,
// with page_size capped at jobstore.MaxPageSize.
func (r *JobRepo) ListJobs(ctx context.Context, filter jobstore.Filter, page, pageSize int) ([]*pipeline.Job, int, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > jobstore.MaxPageSize {
		pageSize = jobstore.MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	argN := 1

	if filter.TenantID != "" {
		where = append(where, fmt.Sprintf("tenant_id = $%d", argN))
		args = append(args, filter.TenantID)
		argN++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, string(filter.Status))
		argN++
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, filter.CreatedAfter)
		argN++
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, filter.CreatedBefore)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + joinClauses(where)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs" + whereClause
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT job_id, correlation_id, source, tenant_id, status, created_at, completed_at,
			duration_ms, documents_stored, chunks_created, embeddings_generated, error_message,
			stages_completed, source_params, metadata
		FROM jobs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*pipeline.Job
	for rows.Next() {
		var (
			job        pipeline.Job
			source     string
			status     string
			stagesJSON []byte
			paramsJSON []byte
			metaJSON   []byte
		)
		if err := rows.Scan(
			&job.JobID, &job.CorrelationID, &source, &job.TenantID, &status, &job.CreatedAt, &job.CompletedAt,
			&job.DurationMS, &job.DocumentsStored, &job.ChunksCreated, &job.EmbeddingsGenerated, &job.ErrorMessage,
			&stagesJSON, &paramsJSON, &metaJSON,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		job.Source = pipeline.Source(source)
		job.Status = pipeline.Status(status)
		_ = json.Unmarshal(stagesJSON, &job.StagesCompleted)
		_ = json.Unmarshal(paramsJSON, &job.SourceParams)
		_ = json.Unmarshal(metaJSON, &job.Metadata)
		jobs = append(jobs, &job)
	}

	return jobs, total, nil
}

// HealthCheck pings the underlying connection pool.
func (r *JobRepo) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.db.Pool.Ping(ctx) == nil
}

var _ jobstore.Store = (*JobRepo)(nil)
