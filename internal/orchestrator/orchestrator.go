// Package orchestrator implements the pipeline entry point described in
// spec.md §4.10: sequencing FETCH → CLEAN → CHUNK → EMBED → STORE over a
// job record, enforcing the status state machine and emitting telemetry
// at every transition.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/chunk"
	"github.com/docingest/pipeline/internal/clean"
	"github.com/docingest/pipeline/internal/embedstage"
	"github.com/docingest/pipeline/internal/jobstore"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/storestage"
	"github.com/docingest/pipeline/internal/telemetry"
)

// Orchestrator runs jobs end to end over the five pipeline stages.
type Orchestrator struct {
	store      jobstore.Store
	registry   *adapter.Registry
	cleanStage *clean.Stage
	chunkStage *chunk.Stage
	embedStage *embedstage.Stage
	storeStage *storestage.Stage
	telemetry  *telemetry.Sink
	logger     *slog.Logger

	embeddingDimension int

	mu         sync.Mutex
	cancelFunc map[string]context.CancelFunc
}

// Deps bundles the Orchestrator's collaborators.
type Deps struct {
	Store              jobstore.Store
	Registry            *adapter.Registry
	CleanStage          *clean.Stage
	ChunkStage          *chunk.Stage
	EmbedStage          *embedstage.Stage
	StoreStage          *storestage.Stage
	Telemetry           *telemetry.Sink
	Logger              *slog.Logger
	EmbeddingDimension  int
}

// New constructs an Orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:              d.Store,
		registry:           d.Registry,
		cleanStage:         d.CleanStage,
		chunkStage:         d.ChunkStage,
		embedStage:         d.EmbedStage,
		storeStage:         d.StoreStage,
		telemetry:          d.Telemetry,
		logger:             logger,
		embeddingDimension: d.EmbeddingDimension,
		cancelFunc:         make(map[string]context.CancelFunc),
	}
}

// Cancel signals cancellation for a running job. It is a no-op if the job
// is not currently executing on this orchestrator instance (spec.md §9:
// resumption/ownership across nodes is undefined, so cross-node cancel
// isn't attempted here).
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancelFunc[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Run executes one job end to end. It is intended to be invoked on its own
// goroutine by the caller (one dedicated task per job, per spec.md §5).
func (o *Orchestrator) Run(ctx context.Context, jobID, correlationID, tenantID string, source pipeline.Source, params adapter.Params) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelFunc[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancelFunc, jobID)
		o.mu.Unlock()
		cancel()
	}()

	startedAt := time.Now()
	o.telemetry.Emit(ctx, telemetry.JobStarted(jobID, tenantID, correlationID))

	counters := map[string]any{}

	docs, ok := o.runFetch(ctx, jobID, correlationID, tenantID, source, params, startedAt)
	if !ok {
		return
	}
	counters["documents_stored"] = len(docs)

	cleaned, ok := o.runClean(ctx, jobID, correlationID, tenantID, docs, startedAt)
	if !ok {
		return
	}

	chunks, ok := o.runChunk(ctx, jobID, correlationID, tenantID, cleaned, startedAt)
	if !ok {
		return
	}
	counters["chunks_created"] = len(chunks)

	embeddings, ok := o.runEmbed(ctx, jobID, correlationID, tenantID, chunks, startedAt)
	if !ok {
		return
	}
	counters["embeddings_generated"] = len(embeddings)

	documentsStored, ok := o.runStore(ctx, jobID, correlationID, tenantID, chunks, embeddings, startedAt)
	if !ok {
		return
	}
	counters["documents_stored"] = documentsStored

	o.complete(ctx, jobID, correlationID, tenantID, startedAt, counters)
}

func (o *Orchestrator) runFetch(ctx context.Context, jobID, correlationID, tenantID string, source pipeline.Source, params adapter.Params, startedAt time.Time) ([]pipeline.RawDocument, bool) {
	if o.checkCancelled(ctx, jobID, correlationID, tenantID, startedAt) {
		return nil, false
	}
	if !o.transition(ctx, jobID, pipeline.StatusFetching) {
		return nil, false
	}

	a, found := o.registry.Get(source)
	if !found {
		o.fail(ctx, jobID, correlationID, tenantID, startedAt, pipeline.Validationf("no adapter registered for source %s", source))
		return nil, false
	}

	begin := time.Now()
	docs, err := a.Fetch(ctx, params)
	if err != nil {
		if pipeline.KindOf(err) == pipeline.KindCancelled {
			o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
			return nil, false
		}
		o.fail(ctx, jobID, correlationID, tenantID, startedAt, err)
		return nil, false
	}
	// A single adapter instance is shared across every tenant's jobs for a
	// given source (the registry holds one Adapter per source, not per
	// tenant), so the authoritative tenant_id is the one this job carries,
	// not whatever an adapter happened to bake into RawDocument.TenantID.
	for i := range docs {
		docs[i].TenantID = tenantID
	}

	o.stageCompleted(ctx, jobID, correlationID, tenantID, pipeline.StageFetch, begin, len(docs))
	o.appendCounterAndStage(jobID, pipeline.StageFetch, func(p *pipeline.JobPatch) {
		n := len(docs)
		p.DocumentsStored = &n
	})
	return docs, true
}

func (o *Orchestrator) runClean(ctx context.Context, jobID, correlationID, tenantID string, docs []pipeline.RawDocument, startedAt time.Time) ([]pipeline.CleanedDocument, bool) {
	if o.checkCancelled(ctx, jobID, correlationID, tenantID, startedAt) {
		return nil, false
	}
	if !o.transition(ctx, jobID, pipeline.StatusCleaning) {
		return nil, false
	}

	begin := time.Now()
	cleaned := o.cleanStage.Run(docs)

	o.stageCompleted(ctx, jobID, correlationID, tenantID, pipeline.StageClean, begin, len(cleaned))
	o.appendStage(jobID, pipeline.StageClean)
	return cleaned, true
}

func (o *Orchestrator) runChunk(ctx context.Context, jobID, correlationID, tenantID string, docs []pipeline.CleanedDocument, startedAt time.Time) ([]pipeline.Chunk, bool) {
	if o.checkCancelled(ctx, jobID, correlationID, tenantID, startedAt) {
		return nil, false
	}
	if !o.transition(ctx, jobID, pipeline.StatusChunking) {
		return nil, false
	}

	begin := time.Now()
	var all []pipeline.Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
			return nil, false
		}
		chunks, err := o.chunkStage.Run(ctx, doc)
		if err != nil {
			if pipeline.KindOf(err) == pipeline.KindCancelled {
				o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
				return nil, false
			}
			o.fail(ctx, jobID, correlationID, tenantID, startedAt, err)
			return nil, false
		}
		all = append(all, chunks...)
	}

	o.stageCompleted(ctx, jobID, correlationID, tenantID, pipeline.StageChunk, begin, len(all))
	n := len(all)
	o.appendCounterAndStage(jobID, pipeline.StageChunk, func(p *pipeline.JobPatch) {
		p.ChunksCreated = &n
	})
	return all, true
}

func (o *Orchestrator) runEmbed(ctx context.Context, jobID, correlationID, tenantID string, chunks []pipeline.Chunk, startedAt time.Time) ([]pipeline.Embedding, bool) {
	if o.checkCancelled(ctx, jobID, correlationID, tenantID, startedAt) {
		return nil, false
	}
	if !o.transition(ctx, jobID, pipeline.StatusEmbedding) {
		return nil, false
	}

	begin := time.Now()
	result, err := o.embedStage.Run(ctx, chunks)
	if err != nil {
		if pipeline.KindOf(err) == pipeline.KindCancelled {
			o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
			return nil, false
		}
		o.fail(ctx, jobID, correlationID, tenantID, startedAt, err)
		return nil, false
	}

	o.stageCompleted(ctx, jobID, correlationID, tenantID, pipeline.StageEmbed, begin, len(result.Embeddings))
	n := len(result.Embeddings)
	o.appendCounterAndStage(jobID, pipeline.StageEmbed, func(p *pipeline.JobPatch) {
		p.EmbeddingsGenerated = &n
	})
	return result.Embeddings, true
}

func (o *Orchestrator) runStore(ctx context.Context, jobID, correlationID, tenantID string, chunks []pipeline.Chunk, embeddings []pipeline.Embedding, startedAt time.Time) (int, bool) {
	if o.checkCancelled(ctx, jobID, correlationID, tenantID, startedAt) {
		return 0, false
	}
	if !o.transition(ctx, jobID, pipeline.StatusStoring) {
		return 0, false
	}

	begin := time.Now()
	documentsStored, err := o.storeStage.Run(ctx, tenantID, chunks, embeddings, o.embeddingDimension)
	if err != nil {
		if pipeline.KindOf(err) == pipeline.KindCancelled {
			o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
			return 0, false
		}
		o.fail(ctx, jobID, correlationID, tenantID, startedAt, err)
		return 0, false
	}

	o.stageCompleted(ctx, jobID, correlationID, tenantID, pipeline.StageStore, begin, len(chunks))
	o.appendStage(jobID, pipeline.StageStore)
	return documentsStored, true
}

// transition advances the job to status. Per spec.md §4.1, a storage error
// from this mid-pipeline UpdateJob is logged and swallowed, not surfaced as
// a job failure, so transition always returns true.
func (o *Orchestrator) transition(ctx context.Context, jobID string, status pipeline.Status) bool {
	s := status
	_, err := o.store.UpdateJob(ctx, jobID, pipeline.JobPatch{Status: &s})
	if err != nil {
		o.logger.Warn("mid-pipeline job update failed, continuing best-effort", "job_id", jobID, "status", status, "error", err)
	}
	return true
}

func (o *Orchestrator) appendStage(jobID string, stage pipeline.StageName) {
	s := stage
	_, err := o.store.UpdateJob(context.Background(), jobID, pipeline.JobPatch{AppendStage: &s})
	if err != nil {
		o.logger.Warn("mid-pipeline stage append failed, continuing best-effort", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (o *Orchestrator) appendCounterAndStage(jobID string, stage pipeline.StageName, apply func(*pipeline.JobPatch)) {
	patch := pipeline.JobPatch{}
	apply(&patch)
	s := stage
	patch.AppendStage = &s
	_, err := o.store.UpdateJob(context.Background(), jobID, patch)
	if err != nil {
		o.logger.Warn("mid-pipeline counter update failed, continuing best-effort", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID, correlationID, tenantID string, startedAt time.Time) bool {
	if ctx.Err() == nil {
		return false
	}
	o.cancelJob(ctx, jobID, correlationID, tenantID, startedAt)
	return true
}

func (o *Orchestrator) stageCompleted(ctx context.Context, jobID, correlationID, tenantID string, stage pipeline.StageName, begin time.Time, itemsProcessed int) {
	durationMS := time.Since(begin).Milliseconds()
	o.telemetry.Emit(ctx, telemetry.StageCompleted(jobID, tenantID, correlationID, string(stage), durationMS, itemsProcessed))
}

// fail performs the terminal FAILED transition. Per spec.md §4.1, this
// UpdateJob's own storage error IS surfaced (logged at error level); there
// is nothing further to propagate it to since the orchestrator owns the
// job's entire lifecycle.
func (o *Orchestrator) fail(ctx context.Context, jobID, correlationID, tenantID string, startedAt time.Time, cause error) {
	status := pipeline.StatusFailed
	now := time.Now()
	durationMS := now.Sub(startedAt).Milliseconds()
	msg := cause.Error()

	_, err := o.store.UpdateJob(context.WithoutCancel(ctx), jobID, pipeline.JobPatch{
		Status:       &status,
		CompletedAt:  &now,
		DurationMS:   &durationMS,
		ErrorMessage: &msg,
	})
	if err != nil {
		o.logger.Error("terminal FAILED update failed", "job_id", jobID, "error", err)
	}

	o.telemetry.Emit(context.WithoutCancel(ctx), telemetry.JobFailed(jobID, tenantID, correlationID, string(pipeline.KindOf(cause)), msg))
}

func (o *Orchestrator) cancelJob(ctx context.Context, jobID, correlationID, tenantID string, startedAt time.Time) {
	status := pipeline.StatusCancelled
	now := time.Now()
	durationMS := now.Sub(startedAt).Milliseconds()
	msg := "Cancelled: cancellation signal observed"

	_, err := o.store.UpdateJob(context.WithoutCancel(ctx), jobID, pipeline.JobPatch{
		Status:       &status,
		CompletedAt:  &now,
		DurationMS:   &durationMS,
		ErrorMessage: &msg,
	})
	if err != nil {
		o.logger.Error("terminal CANCELLED update failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) complete(ctx context.Context, jobID, correlationID, tenantID string, startedAt time.Time, counters map[string]any) {
	status := pipeline.StatusCompleted
	now := time.Now()
	durationMS := now.Sub(startedAt).Milliseconds()

	patch := pipeline.JobPatch{
		Status:      &status,
		CompletedAt: &now,
		DurationMS:  &durationMS,
	}
	if v, ok := counters["documents_stored"].(int); ok {
		patch.DocumentsStored = &v
	}

	_, err := o.store.UpdateJob(ctx, jobID, patch)
	if err != nil {
		o.logger.Error("terminal COMPLETED update failed", "job_id", jobID, "error", err)
	}

	o.telemetry.Emit(ctx, telemetry.JobCompleted(jobID, tenantID, correlationID, durationMS, counters))
}
