package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/auth"
	"github.com/docingest/pipeline/internal/jobrunner"
	"github.com/docingest/pipeline/internal/jobstore"
	"github.com/docingest/pipeline/internal/orchestrator"
	"github.com/docingest/pipeline/internal/pipeline"
)

type fakeStore struct {
	jobs       map[string]*pipeline.Job
	createErr  error
	healthy    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*pipeline.Job), healthy: true}
}

func (f *fakeStore) CreateJob(ctx context.Context, job *pipeline.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.jobs[job.JobID]; exists {
		return jobstore.ErrConflict
	}
	f.jobs[job.JobID] = job
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*pipeline.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) UpdateJob(ctx context.Context, jobID string, patch pipeline.JobPatch) (*pipeline.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter jobstore.Filter, page, pageSize int) ([]*pipeline.Job, int, error) {
	var out []*pipeline.Job
	for _, j := range f.jobs {
		if filter.TenantID != "" && j.TenantID != filter.TenantID {
			continue
		}
		out = append(out, j)
	}
	return out, len(out), nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) bool { return f.healthy }

type fakeSubmitAdapter struct {
	validateErr error
}

func (f *fakeSubmitAdapter) Validate(params adapter.Params) error { return f.validateErr }
func (f *fakeSubmitAdapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	return nil, nil
}
func (f *fakeSubmitAdapter) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeSubmitAdapter) SupportedFormats() []string            { return nil }

// inertPool is a jobrunner.Pool whose worker has already exited (built
// from a pre-cancelled context), so Submit refuses the job with
// ErrShuttingDown (which the handler only logs) instead of letting it
// drive a real (nil-stage) orchestrator run in the background during a
// handler test.
func inertPool() *jobrunner.Pool {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return jobrunner.New(ctx, 1, nil)
}

func testServer(t *testing.T, store *fakeStore, jwtManager *auth.JWTManager) *Server {
	t.Helper()
	registry := adapter.NewRegistry()
	registry.Register(pipeline.SourceFileUpload, &fakeSubmitAdapter{})

	orch := orchestrator.New(orchestrator.Deps{Store: store})

	return New(Config{
		Store:        store,
		Registry:     registry,
		Orchestrator: orch,
		Pool:         inertPool(),
		JWTManager:   jwtManager,
	})
}

func authedRequest(t *testing.T, manager *auth.JWTManager, method, path string, body []byte) *http.Request {
	t.Helper()
	token, err := manager.GenerateToken("tenant-1", "Acme")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandleSubmit_Success(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	body, _ := json.Marshal(map[string]any{
		"source":    "file_upload",
		"file_path": "/tmp/doesnotneedtoexist.txt",
	})
	req := authedRequest(t, manager, http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job pipeline.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.TenantID != "tenant-1" {
		t.Errorf("expected tenant_id tenant-1, got %s", job.TenantID)
	}
	if job.Status != pipeline.StatusPending {
		t.Errorf("expected PENDING status, got %s", job.Status)
	}
	if len(store.jobs) != 1 {
		t.Errorf("expected the job persisted, got %d jobs in store", len(store.jobs))
	}
}

func TestHandleSubmit_MissingSourceRejected(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	body, _ := json.Marshal(map[string]any{"file_path": "/tmp/x"})
	req := authedRequest(t, manager, http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmit_UnknownSourceRejected(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	body, _ := json.Marshal(map[string]any{"source": "not_a_real_source"})
	req := authedRequest(t, manager, http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(store.jobs) != 0 {
		t.Error("expected no job created for an unknown source")
	}
}

func TestHandleSubmit_WithoutAuthRejected(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	body, _ := json.Marshal(map[string]any{"source": "file_upload", "file_path": "/tmp/x"})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleGet_CrossTenantReturns404(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &pipeline.Job{JobID: "job-1", TenantID: "other-tenant", Status: pipeline.StatusPending}
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := authedRequest(t, manager, http.MethodGet, "/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a cross-tenant job lookup, got %d", rec.Code)
	}
}

func TestHandleGet_OwnJobFound(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &pipeline.Job{JobID: "job-1", TenantID: "tenant-1", Status: pipeline.StatusPending}
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := authedRequest(t, manager, http.MethodGet, "/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleCancel_AlreadyTerminalRejected(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &pipeline.Job{JobID: "job-1", TenantID: "tenant-1", Status: pipeline.StatusCompleted}
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := authedRequest(t, manager, http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for cancelling a terminal job, got %d", rec.Code)
	}
}

func TestHandleCancel_NotRunningReturns404(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &pipeline.Job{JobID: "job-1", TenantID: "tenant-1", Status: pipeline.StatusFetching}
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := authedRequest(t, manager, http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when the job isn't running on this node, got %d", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleReadyz_UnhealthyStoreReturns503(t *testing.T) {
	store := newFakeStore()
	store.healthy = false
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the job store is unhealthy, got %d", rec.Code)
	}
}

func TestHandleReadyz_HealthyStoreReturns200(t *testing.T) {
	store := newFakeStore()
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleList_ScopedToAuthenticatedTenant(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &pipeline.Job{JobID: "job-1", TenantID: "tenant-1"}
	store.jobs["job-2"] = &pipeline.Job{JobID: "job-2", TenantID: "tenant-2"}
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	srv := testServer(t, store, manager)

	req := authedRequest(t, manager, http.MethodGet, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Jobs []*pipeline.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected 1 job scoped to tenant-1, got %d", len(resp.Jobs))
	}
	if resp.Jobs[0].JobID != "job-1" {
		t.Errorf("expected job-1, got %s", resp.Jobs[0].JobID)
	}
}
