package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aegismed/caseflow/internal/retrieval"
	"github.com/aegismed/caseflow/internal/storage"
	"github.com/aegismed/caseflow/internal/workflow"
)

// Server is the Caseflow HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Searcher.
type ServerConfig struct {
	// Required dependencies.
	DB     *storage.DB
	Engine *workflow.Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Searcher retrieval.Searcher

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// ServiceKeyHash enables bearer auth when non-empty.
	ServiceKeyHash string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Engine:              cfg.Engine,
		Searcher:            cfg.Searcher,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Patients.
	mux.HandleFunc("POST /v1/patients", h.HandleUpsertPatient)
	mux.HandleFunc("GET /v1/patients/{patient_id}", h.HandleGetPatient)
	mux.HandleFunc("GET /v1/patients/{patient_id}/cases", h.HandleListPatientCases)

	// Case pipeline.
	mux.HandleFunc("POST /v1/cases", h.HandleCreateCase)
	mux.HandleFunc("GET /v1/cases/{case_id}", h.HandleGetCase)

	// Vitals monitoring.
	mux.HandleFunc("POST /v1/vitals", h.HandleSubmitVitals)
	mux.HandleFunc("GET /v1/patients/{patient_id}/vitals", h.HandleListVitals)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.ServiceKeyHash, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
