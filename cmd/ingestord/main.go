// Command ingestord runs the document ingestion pipeline service: it wires
// the Job Store, rate limiters, retry executor, the five source adapters,
// the four processing stages, the orchestrator, the worker pool, and the
// HTTP façade, then serves until signalled to shut down. Adapted from the
// teacher's cmd/ragd/main.go wiring pattern (context→config→storage→
// services→servers→graceful shutdown), generalized from gRPC+HTTP-gateway
// to a single chi HTTP façade per spec.md §1.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/adapter/apifetch"
	"github.com/docingest/pipeline/internal/adapter/dbquery"
	"github.com/docingest/pipeline/internal/adapter/fileupload"
	"github.com/docingest/pipeline/internal/adapter/secedgar"
	"github.com/docingest/pipeline/internal/adapter/urlscrape"
	"github.com/docingest/pipeline/internal/auth"
	"github.com/docingest/pipeline/internal/chunk"
	"github.com/docingest/pipeline/internal/clean"
	"github.com/docingest/pipeline/internal/config"
	"github.com/docingest/pipeline/internal/embedder"
	"github.com/docingest/pipeline/internal/embedstage"
	"github.com/docingest/pipeline/internal/jobrunner"
	"github.com/docingest/pipeline/internal/jobstore/postgres"
	"github.com/docingest/pipeline/internal/orchestrator"
	"github.com/docingest/pipeline/internal/pipeline"
	"github.com/docingest/pipeline/internal/ratelimit"
	"github.com/docingest/pipeline/internal/retry"
	"github.com/docingest/pipeline/internal/server"
	"github.com/docingest/pipeline/internal/storestage"
	"github.com/docingest/pipeline/internal/telemetry"
	"github.com/docingest/pipeline/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ingestord exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	db, err := postgres.New(ctx, cfg.DatabaseURL, cfg.PoolSize, cfg.MaxOverflow)
	if err != nil {
		return fmt.Errorf("connect job store: %w", err)
	}
	defer db.Close()
	store := postgres.NewJobRepo(db)

	vstore, err := vectorstore.NewQdrantStore(cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("connect vector store: %w", err)
	}

	embed := embedder.NewHTTPEmbedder(embedder.HTTPConfig{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingProviderAPIKey,
		Model:   cfg.EmbeddingModel,
	})

	telemetrySink := telemetry.New(cfg.TelemetryEndpoint, logger)

	// Rate limiters, one per external collaborator named in spec.md §5's
	// shared-resources list: the three HTTP-fetching adapters (SEC EDGAR,
	// URL scrape, API fetch) and the embedding provider each get their own
	// keyed limiter so a slow tenant on one source never throttles another.
	secEdgarLimiter := ratelimit.New(time.Duration(cfg.SECEdgarRateLimit * float64(time.Second)))
	urlScrapeLimiter := ratelimit.New(time.Duration(cfg.URLScrapeRateLimit * float64(time.Second)))
	apiFetchLimiter := ratelimit.New(time.Duration(cfg.APIFetchRateLimit * float64(time.Second)))
	embeddingLimiter := ratelimit.New(time.Duration(cfg.EmbeddingRateLimit * float64(time.Second)))

	retryCfg := retry.Config{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
		MaxDelay:     cfg.RetryMaxDelay,
		Jitter:       cfg.RetryJitter,
	}
	retryer := retry.New(retryCfg, nil)

	registry := buildRegistry(cfg, secEdgarLimiter, urlScrapeLimiter, apiFetchLimiter, retryer)

	cleanStage := clean.New(clean.Config{MinChunkableChars: cfg.MinChunkableChars})

	tokenizer, err := chunk.NewTokenizer(cfg.TokenizerModel)
	if err != nil {
		return fmt.Errorf("build tokenizer: %w", err)
	}
	chunkStage, err := chunk.New(chunk.Config{
		ChunkSize:           cfg.ChunkSize,
		Overlap:             cfg.ChunkOverlap,
		Strategy:            chunk.Strategy(cfg.ChunkStrategy),
		SimilarityThreshold: cfg.SimilarityThreshold,
		TokenizerModel:       cfg.TokenizerModel,
	}, tokenizer, embed)
	if err != nil {
		return fmt.Errorf("build chunk stage: %w", err)
	}

	embedStage := embedstage.New(embedstage.Config{
		BatchSize:      cfg.BatchSize,
		MaxWorkers:     cfg.MaxWorkersEmbed,
		UnitCostPerTok: cfg.EmbeddingUnitCost / 1000,
	}, embed, embeddingLimiter, retryer)

	storeStage := storestage.New(storestage.Config{BatchSize: cfg.BatchSize}, vstore)

	orch := orchestrator.New(orchestrator.Deps{
		Store:              store,
		Registry:           registry,
		CleanStage:         cleanStage,
		ChunkStage:         chunkStage,
		EmbedStage:         embedStage,
		StoreStage:         storeStage,
		Telemetry:          telemetrySink,
		Logger:             logger,
		EmbeddingDimension: embed.Dimension(),
	})

	pool := jobrunner.New(ctx, cfg.MaxWorkers, logger)
	defer pool.Shutdown()

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig(cfg.JWTSecret))

	srv := server.New(server.Config{
		Port:         cfg.HTTPPort,
		Store:        store,
		Registry:     registry,
		Orchestrator: orch,
		Pool:         pool,
		VectorStore:  vstore,
		JWTManager:   jwtManager,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingestord listening", "port", cfg.HTTPPort)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		pool.Shutdown()
		return nil
	}
}

// buildRegistry constructs the adapter registry, registering one shared
// instance per source. Adapters are tenant-agnostic at construction time:
// the orchestrator stamps the authoritative tenant_id onto every fetched
// document after Fetch returns (see orchestrator.runFetch), so adapters
// are built here with an empty tenant placeholder.
func buildRegistry(cfg *config.Config, secEdgarLimiter, urlScrapeLimiter, apiFetchLimiter *ratelimit.Limiter, retryer *retry.Executor) *adapter.Registry {
	registry := adapter.NewRegistry()

	registry.Register(pipeline.SourceFileUpload, fileupload.New("", fileupload.Config{
		MaxSizeBytes: cfg.FileUploadMaxSizeBytes,
	}, nil))

	registry.Register(pipeline.SourceSECEdgar, secedgar.New("", secedgar.Config{
		UserAgent: cfg.SECEdgarUserAgent,
	}, secEdgarLimiter, retryer))

	registry.Register(pipeline.SourceURLScrape, urlscrape.New("", urlscrape.Config{
		UserAgent:     cfg.URLScrapeUserAgent,
		RespectRobots: cfg.URLScrapeRespectRobots,
		MaxSizeBytes:  cfg.URLScrapeMaxSizeBytes,
		Timeout:       cfg.URLScrapeTimeout,
	}, urlScrapeLimiter, retryer))

	registry.Register(pipeline.SourceAPIFetch, apifetch.New("", apifetch.Config{
		Timeout:   cfg.APIFetchTimeout,
		VerifySSL: cfg.APIFetchVerifySSL,
	}, &http.Client{Timeout: cfg.APIFetchTimeout}, apiFetchLimiter, retryer))

	registry.Register(pipeline.SourceDBQuery, dbquery.New("", dbquery.Config{
		ReadOnly: cfg.DBQueryReadOnly,
		Timeout:  cfg.DBQueryTimeout,
		MaxRows:  cfg.DBQueryMaxRows,
	}))

	return registry
}
