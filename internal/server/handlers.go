package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/retrieval"
	"github.com/aegismed/caseflow/internal/storage"
	"github.com/aegismed/caseflow/internal/workflow"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	engine              *workflow.Engine
	searcher            retrieval.Searcher
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Searcher.
type HandlersDeps struct {
	DB                  *storage.DB
	Engine              *workflow.Engine
	Searcher            retrieval.Searcher
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		engine:              d.Engine,
		searcher:            d.Searcher,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// CreateCaseRequest is the body of POST /v1/cases.
type CreateCaseRequest struct {
	PatientID string         `json:"patient_id"`
	Symptoms  model.Symptoms `json:"symptoms"`
}

// HandleCreateCase handles POST /v1/cases: it runs the full pipeline
// synchronously and returns the aggregated result. Stage failures are
// reported inside the 200 body; only rejected input is an HTTP error.
func (h *Handlers) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.PatientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}

	c := model.NewCase(req.PatientID, req.Symptoms)
	result, err := h.engine.Execute(r.Context(), c)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		// Caller cancellation or internal transition failure.
		h.logger.Error("case execution failed", "case_id", c.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "case execution failed")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetCase handles GET /v1/cases/{case_id}: returns the persisted
// result with its audit trail.
func (h *Handlers) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(r.PathValue("case_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid case ID")
		return
	}

	result, err := h.db.GetCaseResult(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
			return
		}
		h.logger.Error("get case failed", "case_id", caseID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load case")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// SubmitVitalsRequest is the body of POST /v1/vitals.
type SubmitVitalsRequest struct {
	PatientID string               `json:"patient_id"`
	Snapshot  model.VitalsSnapshot `json:"snapshot"`
}

// HandleSubmitVitals handles POST /v1/vitals: classifies the snapshot
// against thresholds and the patient's stored series, appends it, and
// returns the report.
func (h *Handlers) HandleSubmitVitals(w http.ResponseWriter, r *http.Request) {
	var req SubmitVitalsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.PatientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}

	report, err := h.engine.MonitorVitals(r.Context(), req.PatientID, req.Snapshot, nil)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.logger.Error("vitals monitoring failed", "patient_id", req.PatientID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "vitals monitoring failed")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleListVitals handles GET /v1/patients/{patient_id}/vitals.
func (h *Handlers) HandleListVitals(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("patient_id")
	if patientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}

	snaps, err := h.db.ListVitals(r.Context(), patientID)
	if err != nil {
		h.logger.Error("list vitals failed", "patient_id", patientID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load vitals")
		return
	}
	if snaps == nil {
		snaps = []model.VitalsSnapshot{}
	}
	writeJSON(w, r, http.StatusOK, snaps)
}

// HandleUpsertPatient handles POST /v1/patients: registers or updates a
// patient record. Cases can only run for registered patients.
func (h *Handlers) HandleUpsertPatient(w http.ResponseWriter, r *http.Request) {
	var p model.Patient
	if err := decodeJSON(w, r, &p, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if p.ID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}
	if p.Age < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "age must not be negative")
		return
	}

	if err := h.db.UpsertPatient(r.Context(), p); err != nil {
		h.logger.Error("upsert patient failed", "patient_id", p.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to save patient")
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleGetPatient handles GET /v1/patients/{patient_id}.
func (h *Handlers) HandleGetPatient(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("patient_id")
	if patientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}

	p, err := h.db.GetPatient(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "patient not found")
			return
		}
		h.logger.Error("get patient failed", "patient_id", patientID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load patient")
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleListPatientCases handles GET /v1/patients/{patient_id}/cases:
// the patient's case history with audit trails, newest first.
func (h *Handlers) HandleListPatientCases(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("patient_id")
	if patientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "patient_id is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := h.db.ListCaseResultsByPatient(r.Context(), patientID, limit)
	if err != nil {
		h.logger.Error("list patient cases failed", "patient_id", patientID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load case history")
		return
	}
	if results == nil {
		results = []model.CaseResult{}
	}
	writeJSON(w, r, http.StatusOK, results)
}

// healthStatus is the health check response body.
type healthStatus struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	Retrieval     string `json:"retrieval,omitempty"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      "ok",
	}
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = "unreachable"
		httpStatus = http.StatusServiceUnavailable
	}
	if h.searcher != nil {
		if err := h.searcher.Healthy(r.Context()); err != nil {
			// Retrieval is optional; the pipeline degrades without it.
			status.Retrieval = "unreachable"
		} else {
			status.Retrieval = "ok"
		}
	}

	writeJSON(w, r, httpStatus, status)
}
