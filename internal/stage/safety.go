package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegismed/caseflow/internal/llm"
	"github.com/aegismed/caseflow/internal/model"
)

const safetySystemPrompt = `You are a medical ethics and regulatory compliance officer. Review the diagnosis and treatment plan and respond as JSON with fields: hipaa ({passed, rationale}), fda ({passed, rationale}), ethics ({passed, rationale}), risk_level (low|medium|high|critical), recommendation (approve|approve_with_caveats|reject), concerns (array of strings), confidence (0.0-1.0).`

// fdaApproved is the simplified approved-medication list used by the
// rule-based compliance pass. A production deployment would query a
// regulatory database.
var fdaApproved = map[string]bool{
	"acetaminophen": true, "ibuprofen": true, "aspirin": true,
	"amoxicillin": true, "metformin": true, "lisinopril": true,
	"atorvastatin": true, "omeprazole": true, "levothyroxine": true,
	"albuterol": true, "oseltamivir": true, "azithromycin": true,
}

// safetyResponse is the model's reply shape, including its own
// confidence estimate.
type safetyResponse struct {
	model.SafetyReview
	Confidence float32 `json:"confidence"`
}

// SafetyReviewStage validates the assembled case for HIPAA, FDA, and
// ethics compliance. Model findings are tightened, never loosened, by a
// deterministic rule pass.
type SafetyReviewStage struct {
	invoker llm.Invoker
	logger  *slog.Logger
}

// NewSafetyReview creates the stage.
func NewSafetyReview(invoker llm.Invoker, logger *slog.Logger) *SafetyReviewStage {
	return &SafetyReviewStage{invoker: invoker, logger: logger}
}

// Name implements Stage.
func (s *SafetyReviewStage) Name() model.StageName { return model.StageSafetyReview }

// Run implements Stage.
func (s *SafetyReviewStage) Run(ctx context.Context, view View) model.StageOutcome {
	if view.Diagnosis == nil || view.Treatment == nil {
		return model.Failure("safety review: missing upstream diagnosis or treatment plan", false)
	}

	resp, err := s.invoker.Invoke(ctx, llm.PromptSpec{
		System:      safetySystemPrompt,
		Prompt:      s.buildPrompt(view),
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		return model.Failure(fmt.Sprintf("safety review: %v", err), llm.IsRetryable(err))
	}

	var parsed safetyResponse
	if err := resp.Decode(&parsed); err != nil {
		return model.Failure(fmt.Sprintf("safety review: %v", err), true)
	}

	review := parsed.SafetyReview
	s.applyRules(&review, view)

	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}
	return model.Success(model.StagePayload{Safety: &review}, confidence)
}

func (s *SafetyReviewStage) buildPrompt(view View) string {
	var b strings.Builder
	primary, _ := view.Diagnosis.Primary()
	fmt.Fprintf(&b, "Diagnosis: %s (ICD-10 %s, confidence %.2f, urgency %s)\n",
		primary.Name, primary.ICD10Code, primary.Confidence, primary.Urgency)
	fmt.Fprintf(&b, "Patient demographics: age %d, gender %s\n", view.Patient.Age, view.Patient.Gender)
	b.WriteString("Proposed medications:\n")
	for _, med := range view.Treatment.Medications {
		fmt.Fprintf(&b, "- %s %s %s\n", med.Name, med.Dose, med.Frequency)
	}
	if len(view.Treatment.Contraindications) > 0 {
		b.WriteString("Flagged contraindications:\n")
		for _, c := range view.Treatment.Contraindications {
			fmt.Fprintf(&b, "- %s vs %s (%s, %s)\n", c.Medication, c.ConflictsWith, c.Kind, c.Severity)
		}
	}
	return b.String()
}

// applyRules layers deterministic compliance checks over the model
// output. Rules only escalate: a passed check can be failed, risk can
// rise, a recommendation can be downgraded.
func (s *SafetyReviewStage) applyRules(review *model.SafetyReview, view View) {
	for _, med := range view.Treatment.Medications {
		if !fdaApproved[strings.ToLower(strings.TrimSpace(med.Name))] {
			review.FDA.Passed = false
			review.Concerns = append(review.Concerns,
				fmt.Sprintf("medication %q needs FDA approval verification", med.Name))
		}
		if view.Patient.HasAllergy(med.Name) {
			review.Ethics.Passed = false
			review.Concerns = append(review.Concerns,
				fmt.Sprintf("medication %q conflicts with a recorded allergy", med.Name))
		}
	}

	switch {
	case view.Patient.Age < 18:
		review.Concerns = append(review.Concerns, "pediatric patient: guardian consent required")
	case view.Patient.Age > 65:
		review.Concerns = append(review.Concerns, "geriatric patient: consider dose adjustment and polypharmacy risk")
	}

	for _, c := range view.Treatment.Contraindications {
		if c.Severity.Rank() >= model.SeverityHigh.Rank() {
			escalateRisk(review, model.RiskHigh)
		}
	}
	if !review.FDA.Passed || !review.HIPAA.Passed {
		escalateRisk(review, model.RiskHigh)
	} else if !review.Ethics.Passed {
		escalateRisk(review, model.RiskMedium)
	}

	// Keep the recommendation consistent with the escalated findings.
	switch {
	case review.RiskLevel == model.RiskCritical || !review.Compliant():
		review.Recommendation = model.RecommendReject
	case review.RiskLevel.Rank() >= model.RiskMedium.Rank() || len(review.Concerns) > 0:
		if review.Recommendation != model.RecommendReject {
			review.Recommendation = model.RecommendApproveWithCaveats
		}
	case review.Recommendation == "":
		review.Recommendation = model.RecommendApprove
	}
	if review.RiskLevel == "" {
		review.RiskLevel = model.RiskLow
	}
}

func escalateRisk(review *model.SafetyReview, atLeast model.RiskLevel) {
	if review.RiskLevel.Rank() < atLeast.Rank() {
		review.RiskLevel = atLeast
	}
}
