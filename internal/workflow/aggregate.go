package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/aegismed/caseflow/internal/model"
)

// Aggregate folds a CaseState into the terminal CaseResult. It is a
// pure, deterministic function of its input: no clock reads, no
// randomness, no external calls. Calling it twice on the same state
// yields an identical result.
//
// Overall confidence is the minimum across Success outcomes: the chain
// is only as trustworthy as its weakest link. Degraded outcomes are
// usable but carry caveats, so they contribute no confidence sample.
func Aggregate(patientID string, state *model.CaseState) model.CaseResult {
	result := model.CaseResult{
		CaseID:    state.CaseID(),
		PatientID: patientID,
		Status:    state.Status(),
		Trail:     state.Entries(),
	}

	complete := true
	minConfidence := float32(1.0)
	sawSuccess := false

	for _, stageName := range model.PipelineStages {
		rec, ok := state.Latest(stageName)
		if !ok || !rec.Outcome.Usable() {
			complete = false
			continue
		}
		switch stageName {
		case model.StageSymptomAnalysis:
			result.Diagnosis = rec.Outcome.Payload.Diagnosis
		case model.StageEvidenceValidation:
			result.Evidence = rec.Outcome.Payload.Evidence
		case model.StageTreatmentPlanning:
			result.Treatment = rec.Outcome.Payload.Treatment
		case model.StageSafetyReview:
			result.Safety = rec.Outcome.Payload.Safety
		}
		if rec.Outcome.Kind == model.OutcomeSuccess {
			sawSuccess = true
			if rec.Outcome.Confidence < minConfidence {
				minConfidence = rec.Outcome.Confidence
			}
		}
	}

	result.IsComplete = complete && state.Status() == model.StatusCompleted
	if sawSuccess {
		result.OverallConfidence = minConfidence
	}

	// The failure that halted the pipeline, if any.
	if state.Status() == model.StatusFailed {
		for _, rec := range result.Trail {
			if rec.Outcome.Kind == model.OutcomeFailed {
				result.FailedStage = rec.Stage
				result.FailureReason = rec.Outcome.Reason
			}
		}
	}

	result.Flags = mergeFlags(result.Treatment, result.Safety)
	if len(result.Trail) > 0 {
		result.CompletedAt = result.Trail[len(result.Trail)-1].RecordedAt
	}

	if err := check(result); err != nil {
		panic(&AggregationError{Detail: err.Error()})
	}
	return result
}

// mergeFlags combines safety review findings with treatment
// contraindications into one list ranked by severity descending. Ties
// are broken by stage order: safety flags before treatment flags.
func mergeFlags(treatment *model.TreatmentPlan, safety *model.SafetyReview) []model.Flag {
	var flags []model.Flag

	if safety != nil {
		if safety.RiskLevel.Rank() >= model.RiskMedium.Rank() {
			flags = append(flags, model.Flag{
				Source:   model.StageSafetyReview,
				Severity: safety.RiskLevel.Severity(),
				Code:     "risk_level",
				Message:  fmt.Sprintf("overall risk assessed as %s", safety.RiskLevel),
			})
		}
		for code, chk := range map[string]model.ComplianceCheck{
			"hipaa": safety.HIPAA, "fda": safety.FDA, "ethics": safety.Ethics,
		} {
			if !chk.Passed {
				flags = append(flags, model.Flag{
					Source:   model.StageSafetyReview,
					Severity: model.SeverityHigh,
					Code:     code + "_noncompliant",
					Message:  chk.Rationale,
				})
			}
		}
		// Map iteration order is random; fix it before the ranked sort so
		// aggregation stays deterministic.
		sort.SliceStable(flags, func(i, j int) bool { return flags[i].Code < flags[j].Code })
	}

	if treatment != nil {
		for _, c := range treatment.Contraindications {
			flags = append(flags, model.Flag{
				Source:   model.StageTreatmentPlanning,
				Severity: c.Severity,
				Code:     "contraindication",
				Message:  fmt.Sprintf("%s conflicts with %s: %s", c.Medication, c.ConflictsWith, c.Detail),
			})
		}
	}

	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Severity.Rank() != flags[j].Severity.Rank() {
			return flags[i].Severity.Rank() > flags[j].Severity.Rank()
		}
		return stagePriority(flags[i].Source) < stagePriority(flags[j].Source)
	})
	return flags
}

func stagePriority(s model.StageName) int {
	if s == model.StageSafetyReview {
		return 0
	}
	return 1
}

// check verifies the aggregate's internal invariants.
func check(r model.CaseResult) error {
	if r.IsComplete {
		if r.Diagnosis == nil || r.Treatment == nil || r.Safety == nil {
			return fmt.Errorf("complete result missing a stage payload")
		}
		if r.FailedStage != "" {
			return fmt.Errorf("complete result carries failed stage %s", r.FailedStage)
		}
	}
	if r.OverallConfidence < 0 || r.OverallConfidence > 1 {
		return fmt.Errorf("overall confidence %f out of range", r.OverallConfidence)
	}
	var zero time.Time
	if len(r.Trail) > 0 && r.CompletedAt == zero {
		return fmt.Errorf("non-empty trail without completion timestamp")
	}
	return nil
}
