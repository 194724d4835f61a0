package stage

import (
	"context"

	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/vitals"
)

// VitalsMonitoring adapts the pure vitals classifier to the Stage
// contract. It runs outside the case sequence, once per submitted
// snapshot, on a view carrying only the snapshot and its prior series.
type VitalsMonitoring struct {
	thresholds vitals.Thresholds
}

// NewVitalsMonitoring creates the stage with the given thresholds.
func NewVitalsMonitoring(t vitals.Thresholds) *VitalsMonitoring {
	return &VitalsMonitoring{thresholds: t}
}

// Name implements Stage.
func (s *VitalsMonitoring) Name() model.StageName { return model.StageVitalsMonitoring }

// Run implements Stage. Pure classification; it never suspends and its
// only failure mode is a snapshot for an unidentified patient.
func (s *VitalsMonitoring) Run(_ context.Context, view View) model.StageOutcome {
	if view.Snapshot.PatientID == "" {
		return model.Failure("vitals monitoring: snapshot has no patient id", false)
	}
	report := vitals.Report(view.Snapshot, view.Priors, s.thresholds)
	return model.Success(model.StagePayload{Vitals: &report}, 1.0)
}
