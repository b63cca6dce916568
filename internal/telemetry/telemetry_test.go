package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestEmit_PostsEventToEndpoint(t *testing.T) {
	var received atomic.Int32
	var gotKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("failed to decode posted event: %v", err)
		}
		gotKind = string(ev.Kind)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := New(srv.URL, nil)
	sink.Emit(context.Background(), JobStarted("job-1", "tenant-1", "corr-1"))

	if received.Load() != 1 {
		t.Fatalf("expected the endpoint to receive exactly 1 request, got %d", received.Load())
	}
	if gotKind != string(EventJobStarted) {
		t.Errorf("expected job_started kind, got %s", gotKind)
	}
}

func TestEmit_EmptyEndpointIsNoOp(t *testing.T) {
	sink := New("", nil)
	// Must not panic or block despite no server listening anywhere.
	sink.Emit(context.Background(), JobStarted("job-1", "tenant-1", "corr-1"))
}

func TestEmit_NilSinkIsNoOp(t *testing.T) {
	var sink *Sink
	sink.Emit(context.Background(), JobStarted("job-1", "tenant-1", "corr-1"))
}

func TestEmit_TransportFailureDoesNotPanic(t *testing.T) {
	sink := New("http://127.0.0.1:1", nil) // nothing listening
	sink.Emit(context.Background(), JobFailed("job-1", "tenant-1", "corr-1", "internal", "boom"))
}

func TestStageCompleted_CarriesPerStageMetrics(t *testing.T) {
	ev := StageCompleted("job-1", "tenant-1", "corr-1", "chunk", 120, 7)
	if ev.Kind != EventStageCompleted {
		t.Errorf("expected EventStageCompleted, got %s", ev.Kind)
	}
	if ev.Metadata["stage"] != "chunk" {
		t.Errorf("expected stage metadata, got %v", ev.Metadata)
	}
	if ev.Metadata["items_processed"] != 7 {
		t.Errorf("expected items_processed metadata, got %v", ev.Metadata)
	}
}

func TestJobCompleted_MergesCounters(t *testing.T) {
	ev := JobCompleted("job-1", "tenant-1", "corr-1", 500, map[string]any{"documents_stored": 3})
	if ev.Metadata["documents_stored"] != 3 {
		t.Errorf("expected counters merged into metadata, got %v", ev.Metadata)
	}
	if ev.Metadata["duration_ms"] != int64(500) {
		t.Errorf("expected duration_ms set, got %v", ev.Metadata["duration_ms"])
	}
}
