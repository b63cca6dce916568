// Package telemetry emits structured pipeline events to an external HTTP
// collector. Emission is best-effort: transport failures never affect
// pipeline outcome, per spec.md §4.2.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// EventKind is one of the four event kinds spec.md §4.2 names.
type EventKind string

const (
	EventJobStarted     EventKind = "job_started"
	EventStageCompleted EventKind = "stage_completed"
	EventJobCompleted   EventKind = "job_completed"
	EventJobFailed      EventKind = "job_failed"
)

// Event is the envelope posted to the telemetry endpoint.
type Event struct {
	Kind          EventKind      `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	JobID         string         `json:"job_id"`
	TenantID      string         `json:"tenant_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Sink emits telemetry events. A nil *Sink (Endpoint == "") is a valid
// no-op sink, matching a development environment with no collector
// configured.
type Sink struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a telemetry sink posting to endpoint. If endpoint is empty,
// Emit is a no-op.
func New(endpoint string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Emit posts ev to the configured endpoint. Errors are logged at warning
// level and never returned: telemetry must never fail a job.
func (s *Sink) Emit(ctx context.Context, ev Event) {
	if s == nil || s.endpoint == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("telemetry: failed to marshal event", "error", err, "kind", ev.Kind)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("telemetry: failed to build request", "error", err, "kind", ev.Kind)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("telemetry: emit failed", "error", err, "kind", ev.Kind, "job_id", ev.JobID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("telemetry: non-2xx response", "status", resp.StatusCode, "kind", ev.Kind, "job_id", ev.JobID)
	}
}

// JobStarted is a convenience constructor.
func JobStarted(jobID, tenantID, correlationID string) Event {
	return Event{Kind: EventJobStarted, JobID: jobID, TenantID: tenantID, CorrelationID: correlationID}
}

// StageCompleted is a convenience constructor carrying per-stage metrics.
func StageCompleted(jobID, tenantID, correlationID, stage string, durationMS int64, itemsProcessed int) Event {
	return Event{
		Kind: EventStageCompleted, JobID: jobID, TenantID: tenantID, CorrelationID: correlationID,
		Metadata: map[string]any{
			"stage":           stage,
			"duration_ms":     durationMS,
			"items_processed": itemsProcessed,
		},
	}
}

// JobCompleted is a convenience constructor.
func JobCompleted(jobID, tenantID, correlationID string, durationMS int64, counters map[string]any) Event {
	meta := map[string]any{"duration_ms": durationMS}
	for k, v := range counters {
		meta[k] = v
	}
	return Event{Kind: EventJobCompleted, JobID: jobID, TenantID: tenantID, CorrelationID: correlationID, Metadata: meta}
}

// JobFailed is a convenience constructor.
func JobFailed(jobID, tenantID, correlationID string, errKind, errMsg string) Event {
	return Event{
		Kind: EventJobFailed, JobID: jobID, TenantID: tenantID, CorrelationID: correlationID,
		Metadata: map[string]any{"error_kind": errKind, "error_message": fmt.Sprintf("%v", errMsg)},
	}
}
