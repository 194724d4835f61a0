package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegismed/caseflow/internal/llm"
	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/retrieval"
)

const symptomSystemPrompt = `You are a medical diagnostician. Analyze the reported symptoms and produce a differential diagnosis as JSON with fields: diagnoses (array of {name, icd10_code, confidence, reasoning, urgency, supporting_symptoms}), recommended_tests (array of strings), red_flags (array of strings). Order diagnoses by confidence descending. Confidence is 0.0-1.0; urgency is one of low, medium, high, critical.`

// SymptomAnalysis generates a differential diagnosis from the case's
// symptom input, optionally enriched with retrieved literature context.
type SymptomAnalysis struct {
	invoker  llm.Invoker
	searcher retrieval.Searcher // may be nil; context enrichment is best-effort
	logger   *slog.Logger
}

// NewSymptomAnalysis creates the stage. searcher may be nil.
func NewSymptomAnalysis(invoker llm.Invoker, searcher retrieval.Searcher, logger *slog.Logger) *SymptomAnalysis {
	return &SymptomAnalysis{invoker: invoker, searcher: searcher, logger: logger}
}

// Name implements Stage.
func (s *SymptomAnalysis) Name() model.StageName { return model.StageSymptomAnalysis }

// Run implements Stage.
func (s *SymptomAnalysis) Run(ctx context.Context, view View) model.StageOutcome {
	var b strings.Builder
	fmt.Fprintf(&b, "Chief complaint: %s\nOnset: %s\n", view.Case.Symptoms.ChiefComplaint, view.Case.Symptoms.Onset)
	fmt.Fprintf(&b, "Patient: age %d, gender %s\n", view.Patient.Age, view.Patient.Gender)
	if len(view.Patient.MedicalHistory) > 0 {
		fmt.Fprintf(&b, "Medical history: %s\n", strings.Join(view.Patient.MedicalHistory, ", "))
	}
	b.WriteString("Symptoms:\n")
	for _, sym := range view.Case.Symptoms.Symptoms {
		fmt.Fprintf(&b, "- %s: severity %d/10, duration %d days", sym.Name, sym.Severity, sym.DurationDays)
		if sym.Description != "" {
			fmt.Fprintf(&b, " (%s)", sym.Description)
		}
		b.WriteString("\n")
	}

	// Literature context is an enrichment, not a dependency: on failure
	// the stage proceeds without it.
	if s.searcher != nil {
		query := "differential diagnosis for: " + strings.Join(view.Case.Symptoms.Names(), ", ")
		evidence, err := s.searcher.Search(ctx, query, 3)
		if err != nil {
			s.logger.Warn("symptom analysis: literature context unavailable", "error", err)
		} else if len(evidence) > 0 {
			b.WriteString("Relevant literature:\n")
			for _, ev := range evidence {
				fmt.Fprintf(&b, "- %s: %s\n", ev.Title, ev.Summary)
			}
		}
	}

	resp, err := s.invoker.Invoke(ctx, llm.PromptSpec{
		System:      symptomSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return model.Failure(fmt.Sprintf("symptom analysis: %v", err), llm.IsRetryable(err))
	}

	var result model.DiagnosisResult
	if err := resp.Decode(&result); err != nil {
		// Malformed model output; a second attempt may parse.
		return model.Failure(fmt.Sprintf("symptom analysis: %v", err), true)
	}
	primary, ok := result.Primary()
	if !ok {
		return model.Failure("symptom analysis: no diagnoses generated", false)
	}

	return model.Success(model.StagePayload{Diagnosis: &result}, primary.Confidence)
}
