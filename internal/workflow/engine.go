// Package workflow provides the clinical case workflow orchestrator: the
// engine that drives a case through the fixed stage sequence, and the
// pure aggregator that folds the audit trail into a CaseResult.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/stage"
	"github.com/aegismed/caseflow/internal/telemetry"
)

// PatientSource loads patient background data for view construction.
type PatientSource interface {
	GetPatient(ctx context.Context, patientID string) (model.Patient, error)
}

// Store is the persistence collaborator contract.
type Store interface {
	SaveCaseResult(ctx context.Context, result model.CaseResult) error
	AppendVitals(ctx context.Context, snap model.VitalsSnapshot) error
	ListVitals(ctx context.Context, patientID string) ([]model.VitalsSnapshot, error)
}

// Spool receives audit state that could not reach the Store, so a
// halted or cancelled run never loses its trail. May be nil.
type Spool interface {
	SpoolCaseState(result model.CaseResult) error
}

// Config holds the engine's workflow policy.
type Config struct {
	// RetryLimit is the number of retries per stage on a transient
	// failure; a stage runs at most 1+RetryLimit times.
	RetryLimit int
}

// Engine sequences one case at a time through the pipeline. Each Execute
// call owns its CaseState exclusively; engines are safe for concurrent
// use across cases because no state is shared between runs.
type Engine struct {
	stages   map[model.StageName]stage.Stage
	monitor  stage.Stage
	patients PatientSource
	store    Store
	spool    Spool
	cfg      Config
	logger   *slog.Logger

	stageDuration metric.Float64Histogram
	stageOutcomes metric.Int64Counter
}

// New creates an Engine. All four pipeline stages and the monitoring
// stage are required; spool may be nil.
func New(stages []stage.Stage, monitor stage.Stage, patients PatientSource, store Store, spool Spool, cfg Config, logger *slog.Logger) (*Engine, error) {
	byName := make(map[model.StageName]stage.Stage, len(stages))
	for _, st := range stages {
		byName[st.Name()] = st
	}
	for _, name := range model.PipelineStages {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("workflow: missing stage %s", name)
		}
	}
	if monitor == nil {
		return nil, fmt.Errorf("workflow: missing monitoring stage")
	}
	if cfg.RetryLimit < 0 {
		return nil, fmt.Errorf("workflow: retry limit must not be negative")
	}

	meter := telemetry.Meter("caseflow/workflow")
	dur, _ := meter.Float64Histogram("caseflow.stage.duration",
		metric.WithDescription("Time per stage attempt (ms)"),
		metric.WithUnit("ms"),
	)
	outcomes, _ := meter.Int64Counter("caseflow.stage.outcomes",
		metric.WithDescription("Stage attempts by stage and outcome kind"),
	)

	return &Engine{
		stages:        byName,
		monitor:       monitor,
		patients:      patients,
		store:         store,
		spool:         spool,
		cfg:           cfg,
		logger:        logger,
		stageDuration: dur,
		stageOutcomes: outcomes,
	}, nil
}

// Execute drives the case through the fixed stage order and returns the
// aggregated CaseResult. The result is always populated; a non-nil error
// accompanies it only for precondition violations and caller
// cancellation. Stage failures are reported inside the result, never
// thrown.
func (e *Engine) Execute(ctx context.Context, c model.Case) (model.CaseResult, error) {
	ctx, span := telemetry.Tracer("caseflow/workflow").Start(ctx, "workflow.Execute",
		trace.WithAttributes(
			attribute.String("caseflow.case_id", c.ID.String()),
			attribute.String("caseflow.patient_id", c.PatientID),
		))
	defer span.End()

	// Precondition: no stage runs against an empty symptom list and the
	// status never leaves Pending.
	if len(c.Symptoms.Symptoms) == 0 {
		result := model.CaseResult{
			CaseID:        c.ID,
			PatientID:     c.PatientID,
			Status:        model.StatusPending,
			FailureReason: "case has no symptoms",
		}
		return result, fmt.Errorf("%w: case has no symptoms", ErrInvalidInput)
	}

	patient, err := e.patients.GetPatient(ctx, c.PatientID)
	if err != nil {
		result := model.CaseResult{
			CaseID:        c.ID,
			PatientID:     c.PatientID,
			Status:        model.StatusPending,
			FailureReason: fmt.Sprintf("patient lookup: %v", err),
		}
		return result, fmt.Errorf("%w: patient %s: %v", ErrInvalidInput, c.PatientID, err)
	}

	state := model.NewCaseState(c.ID)

	for _, name := range model.PipelineStages {
		// Cancellation is honored between stages: an in-flight stage call
		// completes or times out under its own contract, but no further
		// stage starts, and the accumulated trail is persisted.
		if ctx.Err() != nil {
			state.Append(name, model.Failure(fmt.Sprintf("canceled before %s", name), false))
			_ = state.Transition(model.StatusFailed)
			result := Aggregate(c.PatientID, state)
			e.persist(result)
			return result, ctx.Err()
		}

		st := e.stages[name]
		view := stage.BuildView(c, patient, state, name)

		// The in-progress status is visible before the stage is invoked,
		// so a stuck workflow can be observed externally.
		if err := state.Transition(model.InProgressStatus(name)); err != nil {
			return model.CaseResult{}, fmt.Errorf("workflow: %w", err)
		}

		outcome := e.runWithRetry(ctx, st, view, state)
		if outcome.Kind == model.OutcomeFailed {
			_ = state.Transition(model.StatusFailed)
			result := Aggregate(c.PatientID, state)
			e.persist(result)
			e.logger.Warn("pipeline halted",
				"case_id", c.ID, "stage", name, "reason", outcome.Reason)
			return result, nil
		}
	}

	if err := state.Transition(model.StatusCompleted); err != nil {
		return model.CaseResult{}, fmt.Errorf("workflow: %w", err)
	}
	result := Aggregate(c.PatientID, state)
	e.persist(result)
	e.logger.Info("pipeline completed",
		"case_id", c.ID, "confidence", result.OverallConfidence, "flags", len(result.Flags))
	return result, nil
}

// runWithRetry invokes one stage up to 1+RetryLimit times, appending
// every attempt to the audit trail. A stage that exhausts its retries is
// recorded as a non-retryable failure.
func (e *Engine) runWithRetry(ctx context.Context, st stage.Stage, view stage.View, state *model.CaseState) model.StageOutcome {
	name := st.Name()
	var outcome model.StageOutcome
	for attempt := 0; ; attempt++ {
		start := time.Now()
		outcome = st.Run(ctx, view)
		e.stageDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("stage", string(name))))
		e.stageOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", string(name)),
			attribute.String("kind", string(outcome.Kind)),
		))
		state.Append(name, outcome)

		if outcome.Kind != model.OutcomeFailed || !outcome.Retryable {
			return outcome
		}
		if attempt >= e.cfg.RetryLimit || ctx.Err() != nil {
			// Retries exhausted: downgrade to terminal so the trail shows
			// why downstream stages never ran.
			outcome.Retryable = false
			outcome.Reason = (&TerminalStageError{Stage: name, Reason: outcome.Reason}).Error()
			return outcome
		}
		e.logger.Warn("stage retry", "stage", name, "attempt", attempt+1, "reason", outcome.Reason)
	}
}

// persist hands the result to the persistence collaborator. A store
// failure falls back to the local spool so the audit trail survives.
// Runs detached from the caller's context: persistence must also happen
// when the run was cancelled.
func (e *Engine) persist(result model.CaseResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := e.store.SaveCaseResult(ctx, result)
	if err == nil {
		return
	}
	e.logger.Error("persist case result failed, spooling", "case_id", result.CaseID, "error", err)
	if e.spool == nil {
		return
	}
	if err := e.spool.SpoolCaseState(result); err != nil {
		e.logger.Error("spool case result failed; audit trail at risk", "case_id", result.CaseID, "error", err)
	}
}

// MonitorVitals classifies one snapshot, appends it to the patient's
// series, and returns the report. Independent of the case pipeline.
// When priors is nil, the stored series is loaded for trend comparison.
func (e *Engine) MonitorVitals(ctx context.Context, patientID string, snap model.VitalsSnapshot, priors []model.VitalsSnapshot) (model.VitalsReport, error) {
	snap.PatientID = patientID
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if priors == nil {
		stored, err := e.store.ListVitals(ctx, patientID)
		if err != nil {
			e.logger.Warn("vitals history unavailable, trend skipped", "patient_id", patientID, "error", err)
		} else {
			priors = stored
		}
	}

	outcome := e.monitor.Run(ctx, stage.View{Snapshot: snap, Priors: priors})
	if outcome.Kind == model.OutcomeFailed {
		return model.VitalsReport{}, fmt.Errorf("%w: %s", ErrInvalidInput, outcome.Reason)
	}
	report := *outcome.Payload.Vitals

	// Snapshots are immutable once created; the series is append-only.
	if err := e.store.AppendVitals(ctx, snap); err != nil {
		e.logger.Error("append vitals failed", "patient_id", patientID, "error", err)
	}
	return report, nil
}
