// Package stage implements the StageContract and the five stage adapters.
//
// The workflow engine depends only on the Stage interface and the outcome
// variant a run produces; how a stage computes its outcome (LLM call,
// retrieval, pure rules) is invisible to the engine. Tests substitute
// deterministic fakes behind the same contract.
package stage

import (
	"context"

	"github.com/aegismed/caseflow/internal/model"
)

// View is the read-only projection a stage receives: the immutable case
// input, patient background, and the usable outcomes of every upstream
// stage that has already run. A stage never sees outcomes of stages that
// have not run, and never receives a failed upstream payload.
type View struct {
	Case    model.Case
	Patient model.Patient

	Diagnosis *model.DiagnosisResult
	Evidence  *model.EvidenceReport
	Treatment *model.TreatmentPlan

	// Monitoring-only fields; unset for pipeline stages.
	Snapshot model.VitalsSnapshot
	Priors   []model.VitalsSnapshot
}

// Stage is the capability contract every analysis stage implements.
type Stage interface {
	Name() model.StageName
	Run(ctx context.Context, view View) model.StageOutcome
}

// BuildView projects CaseState into the input for the named stage,
// attaching only payloads from stages the target depends on.
func BuildView(c model.Case, patient model.Patient, state *model.CaseState, target model.StageName) View {
	view := View{Case: c, Patient: patient}
	for _, upstream := range model.PipelineStages {
		if upstream == target {
			break
		}
		rec, ok := state.Latest(upstream)
		if !ok || !rec.Outcome.Usable() {
			continue
		}
		switch upstream {
		case model.StageSymptomAnalysis:
			view.Diagnosis = rec.Outcome.Payload.Diagnosis
		case model.StageEvidenceValidation:
			view.Evidence = rec.Outcome.Payload.Evidence
		case model.StageTreatmentPlanning:
			view.Treatment = rec.Outcome.Payload.Treatment
		}
	}
	return view
}
