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

	"github.com/joho/godotenv"

	"github.com/aegismed/caseflow/internal/config"
	"github.com/aegismed/caseflow/internal/interactions"
	"github.com/aegismed/caseflow/internal/llm"
	"github.com/aegismed/caseflow/internal/retrieval"
	"github.com/aegismed/caseflow/internal/server"
	"github.com/aegismed/caseflow/internal/stage"
	"github.com/aegismed/caseflow/internal/storage"
	"github.com/aegismed/caseflow/internal/telemetry"
	"github.com/aegismed/caseflow/internal/vitals"
	"github.com/aegismed/caseflow/internal/workflow"
	"github.com/aegismed/caseflow/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("CASEFLOW_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("caseflow starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and run migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Open the local audit spool and replay anything left from a
	// previous crash or database outage.
	var spool *storage.Spool
	if cfg.SpoolPath != "" {
		spool, err = storage.OpenSpool(cfg.SpoolPath, logger)
		if err != nil {
			return fmt.Errorf("spool: %w", err)
		}
		defer func() { _ = spool.Close() }()
		if err := spool.Drain(ctx, db); err != nil {
			logger.Warn("spool drain failed", "error", err)
		}
	} else {
		logger.Info("audit spool: disabled (no CASEFLOW_SPOOL_PATH)")
	}

	// LLM collaborator.
	var invoker llm.Invoker
	if cfg.LLMProvider == "noop" {
		invoker = llm.Noop{}
		logger.Info("llm: noop provider, placeholder completions")
	} else {
		invoker = llm.NewClient(llm.Options{
			Provider: cfg.LLMProvider,
			BaseURL:  cfg.LLMBaseURL,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			Timeout:  cfg.LLMTimeout,
		})
		logger.Info("llm: enabled", "provider", cfg.LLMProvider, "model", cfg.LLMModel)
	}

	// Literature retrieval (optional, disabled if QDRANT_URL is empty).
	var searcher retrieval.Searcher
	if cfg.QdrantURL != "" {
		index, err := retrieval.NewQdrantIndex(retrieval.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = index.Close() }()

		if err := index.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}

		embedder := retrieval.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		svc, err := retrieval.NewService(embedder, index)
		if err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}
		searcher = svc
		logger.Info("retrieval: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("retrieval: disabled (no QDRANT_URL)")
	}

	// Assemble the pipeline.
	stages := []stage.Stage{
		stage.NewSymptomAnalysis(invoker, searcher, logger),
		stage.NewEvidenceValidation(searcher, logger),
		stage.NewTreatmentPlanning(invoker, interactions.NewStaticTable(), float32(cfg.DiagnosisConfidence), logger),
		stage.NewSafetyReview(invoker, logger),
	}
	monitor := stage.NewVitalsMonitoring(vitals.DefaultThresholds())

	var spoolDep workflow.Spool
	if spool != nil {
		spoolDep = spool
	}
	engine, err := workflow.New(stages, monitor, db, db, spoolDep,
		workflow.Config{RetryLimit: cfg.RetryLimit}, logger)
	if err != nil {
		return fmt.Errorf("workflow: %w", err)
	}

	// Create and start the HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		Engine:              engine,
		Searcher:            searcher,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ServiceKeyHash:      cfg.ServiceKeyHash,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new requests and drain in-flight
	// cases. In-flight pipelines persist their state on the way out.
	slog.Info("caseflow shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	return nil
}
