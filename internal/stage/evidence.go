package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/retrieval"
)

// supportThreshold is the minimum relevance score for a citation to
// count as support for a diagnosis.
const supportThreshold = 0.5

// maxValidatedDiagnoses bounds how many differential entries are
// validated against the literature.
const maxValidatedDiagnoses = 3

// EvidenceValidation checks the top differential diagnoses against the
// retrieval collaborator's indexed literature.
type EvidenceValidation struct {
	searcher retrieval.Searcher
	logger   *slog.Logger
}

// NewEvidenceValidation creates the stage. A nil searcher degrades
// every run instead of failing it.
func NewEvidenceValidation(searcher retrieval.Searcher, logger *slog.Logger) *EvidenceValidation {
	return &EvidenceValidation{searcher: searcher, logger: logger}
}

// Name implements Stage.
func (s *EvidenceValidation) Name() model.StageName { return model.StageEvidenceValidation }

// Run implements Stage. Retrieval is this stage's core dependency, so a
// search failure fails the stage with the collaborator's retryability.
func (s *EvidenceValidation) Run(ctx context.Context, view View) model.StageOutcome {
	if view.Diagnosis == nil {
		return model.Failure("evidence validation: missing upstream diagnosis", false)
	}
	if s.searcher == nil {
		report := model.EvidenceReport{}
		return model.Degraded(model.StagePayload{Evidence: &report}, 0,
			"retrieval disabled; diagnoses not validated against literature")
	}

	candidates := view.Diagnosis.Diagnoses
	if len(candidates) > maxValidatedDiagnoses {
		candidates = candidates[:maxValidatedDiagnoses]
	}

	report := model.EvidenceReport{Validated: make([]model.ValidatedDiagnosis, 0, len(candidates))}
	var citations []model.Evidence
	supported := 0

	for _, d := range candidates {
		query := fmt.Sprintf("clinical evidence for %s (%s)", d.Name, d.ICD10Code)
		evidence, err := s.searcher.Search(ctx, query, 5)
		if err != nil {
			return model.Failure(fmt.Sprintf("evidence validation: %v", err), retrieval.IsRetryable(err))
		}

		vd := model.ValidatedDiagnosis{Diagnosis: d}
		for _, ev := range evidence {
			if ev.RelevanceScore >= supportThreshold {
				vd.Evidence = append(vd.Evidence, ev)
			}
		}
		vd.Supported = len(vd.Evidence) > 0
		if vd.Supported {
			supported++
			citations = append(citations, vd.Evidence...)
		}
		report.Validated = append(report.Validated, vd)
	}

	if supported == 0 {
		out := model.Degraded(model.StagePayload{Evidence: &report}, 0,
			"no supporting literature found for any candidate diagnosis")
		return out
	}

	confidence := float32(supported) / float32(len(report.Validated))
	out := model.Success(model.StagePayload{Evidence: &report}, confidence)
	out.Citations = citations
	return out
}
