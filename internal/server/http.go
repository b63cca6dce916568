// Package server provides the HTTP façade for job submission and query,
// per spec.md §6. It is a plain chi router rather than the teacher's
// grpc-gateway setup: spec.md §1 places the HTTP surface itself out of
// scope ("a thin submit/query façade"), and the teacher's generated
// gateway package (gen/rag/v1) isn't available without running protoc —
// see DESIGN.md for the full justification.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/auth"
	"github.com/docingest/pipeline/internal/jobrunner"
	"github.com/docingest/pipeline/internal/jobstore"
	"github.com/docingest/pipeline/internal/orchestrator"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/vectorstore"
)

// Config bundles the façade's collaborators.
type Config struct {
	Port           int
	Store          jobstore.Store
	Registry       *adapter.Registry
	Orchestrator   *orchestrator.Orchestrator
	Pool           *jobrunner.Pool
	VectorStore    vectorstore.VectorStore
	JWTManager     *auth.JWTManager
	Logger         *slog.Logger
	AllowedOrigins []string
}

// Server wraps an http.Server around the submit/get/list/cancel/health
// routes.
type Server struct {
	cfg    Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger
}

// New builds a Server with every route mounted.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &Server{cfg: cfg, router: router, logger: logger}

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)

	router.Group(func(r chi.Router) {
		if cfg.JWTManager != nil {
			r.Use(auth.NewMiddleware(cfg.JWTManager, "/healthz", "/readyz").Handler)
		}
		r.Post("/v1/jobs", s.handleSubmit)
		r.Get("/v1/jobs/{jobID}", s.handleGet)
		r.Get("/v1/jobs", s.handleList)
		r.Post("/v1/jobs/{jobID}/cancel", s.handleCancel)
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw map[string]any
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&raw); err != nil {
		writeError(w, pipeline.KindValidation, "request body is not valid JSON")
		return
	}

	body, err := json.Marshal(raw)
	if err != nil {
		writeError(w, pipeline.KindInternal, "failed to re-encode request body")
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, pipeline.KindValidation, "request body does not match the expected submission shape")
		return
	}
	if req.Source == "" {
		writeError(w, pipeline.KindValidation, "source is required")
		return
	}

	tenant, err := auth.RequireTenant(ctx)
	if err != nil {
		writeError(w, pipeline.KindForbidden, "no tenant identity on request")
		return
	}

	a, found := s.cfg.Registry.Get(req.Source)
	if !found {
		writeError(w, pipeline.KindValidation, fmt.Sprintf("unknown source %q", req.Source))
		return
	}

	params, err := req.toParams(raw)
	if err != nil {
		writeError(w, pipeline.KindValidation, err.Error())
		return
	}

	if err := a.Validate(params); err != nil {
		writeStageError(w, err)
		return
	}

	jobID := uuid.NewString()
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = jobID
	}

	job := &pipeline.Job{
		JobID:         jobID,
		CorrelationID: correlationID,
		Source:        req.Source,
		TenantID:      tenant.ID,
		Status:        pipeline.StatusPending,
		CreatedAt:     time.Now(),
		SourceParams:  raw,
		Metadata:      req.Metadata,
	}

	if err := s.cfg.Store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, jobstore.ErrConflict) {
			writeError(w, pipeline.KindValidation, "job_id already exists")
			return
		}
		s.logger.Error("failed to create job", "error", err)
		writeError(w, pipeline.KindInternal, "failed to persist job")
		return
	}

	submitErr := s.cfg.Pool.Submit(func(bgCtx context.Context) {
		s.cfg.Orchestrator.Run(bgCtx, jobID, correlationID, tenant.ID, req.Source, params)
	})
	if submitErr != nil {
		s.logger.Error("failed to dispatch job", "job_id", jobID, "error", submitErr)
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.cfg.Store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, pipeline.KindNotFound, "job not found")
			return
		}
		writeError(w, pipeline.KindInternal, "failed to load job")
		return
	}

	tenant, _ := auth.TenantFromContext(r.Context())
	if tenant != nil && job.TenantID != tenant.ID {
		writeError(w, pipeline.KindNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeError(w, pipeline.KindForbidden, "no tenant identity on request")
		return
	}

	q := r.URL.Query()
	filter := jobstore.Filter{
		TenantID: tenant.ID,
		Status:   pipeline.Status(q.Get("status")),
	}
	if v := q.Get("created_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedAfter = t
		}
	}
	if v := q.Get("created_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedBefore = t
		}
	}

	page := atoiDefault(q.Get("page"), 1)
	pageSize := atoiDefault(q.Get("page_size"), 50)

	jobs, total, err := s.cfg.Store.ListJobs(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, pipeline.KindInternal, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":      jobs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ctx := r.Context()

	job, err := s.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, pipeline.KindNotFound, "job not found")
			return
		}
		writeError(w, pipeline.KindInternal, "failed to load job")
		return
	}

	tenant, _ := auth.TenantFromContext(ctx)
	if tenant != nil && job.TenantID != tenant.ID {
		writeError(w, pipeline.KindNotFound, "job not found")
		return
	}

	if pipeline.IsTerminal(job.Status) {
		writeError(w, pipeline.KindValidation, fmt.Sprintf("job is already in terminal status %s", job.Status))
		return
	}

	if !s.cfg.Orchestrator.Cancel(jobID) {
		writeError(w, pipeline.KindNotFound, "job is not currently running on this node")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancellation_requested"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"job_store": s.cfg.Store.HealthCheck(ctx),
	}
	if s.cfg.VectorStore != nil {
		checks["vector_store"] = s.cfg.VectorStore.HealthCheck(ctx)
	}

	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func writeStageError(w http.ResponseWriter, err error) {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		writeError(w, se.Kind, se.Error())
		return
	}
	writeError(w, pipeline.KindInternal, err.Error())
}

func writeError(w http.ResponseWriter, kind pipeline.ErrorKind, message string) {
	writeJSON(w, httpStatus(grpcCode(kind)), newErrorBody(kind, message))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := len(allowedOrigins) == 0
			if !allowed {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}
			if len(allowedOrigins) == 0 {
				origin = "*"
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
