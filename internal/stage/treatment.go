package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aegismed/caseflow/internal/interactions"
	"github.com/aegismed/caseflow/internal/llm"
	"github.com/aegismed/caseflow/internal/model"
)

const treatmentSystemPrompt = `You are a clinical pharmacologist. Produce a treatment plan as JSON with fields: medications (array of {name, dose, frequency, duration, route, precautions}), non_pharmacological (array of strings), monitoring ({vital_signs, lab_tests, frequency}), follow_up (string), patient_education (array of strings). Never propose medications the patient is allergic to.`

// TreatmentPlanning produces a treatment plan for the primary diagnosis
// and cross-references proposed medications against patient allergies and
// current medications. The cross-reference is pure and deterministic; it
// runs after, and independently of, the model call.
type TreatmentPlanning struct {
	invoker         llm.Invoker
	table           interactions.Table
	confidenceFloor float32
	logger          *slog.Logger
}

// NewTreatmentPlanning creates the stage. confidenceFloor is the minimum
// upstream diagnosis confidence below which medications are withheld.
func NewTreatmentPlanning(invoker llm.Invoker, table interactions.Table, confidenceFloor float32, logger *slog.Logger) *TreatmentPlanning {
	return &TreatmentPlanning{invoker: invoker, table: table, confidenceFloor: confidenceFloor, logger: logger}
}

// Name implements Stage.
func (s *TreatmentPlanning) Name() model.StageName { return model.StageTreatmentPlanning }

// Run implements Stage.
func (s *TreatmentPlanning) Run(ctx context.Context, view View) model.StageOutcome {
	if view.Diagnosis == nil {
		return model.Failure("treatment planning: missing upstream diagnosis", false)
	}
	primary, ok := view.Diagnosis.Primary()
	if !ok {
		return model.Failure("treatment planning: empty differential", false)
	}

	// Confidence gate: below the floor the stage refuses to propose
	// medications and degrades instead of failing.
	if primary.Confidence < s.confidenceFloor {
		plan := &model.TreatmentPlan{
			NonPharmacological: []string{"Clinical re-evaluation", "Symptomatic supportive care"},
			Monitoring: model.MonitoringPlan{
				VitalSigns: []string{"Temperature", "Heart rate"},
				Frequency:  "Daily until re-evaluated",
			},
			FollowUp: "Repeat assessment; diagnosis confidence too low to prescribe",
		}
		warning := fmt.Sprintf("diagnosis confidence %.2f below threshold %.2f; medications withheld",
			primary.Confidence, s.confidenceFloor)
		return model.Degraded(model.StagePayload{Treatment: plan}, primary.Confidence, warning)
	}

	prompt := s.buildPrompt(primary, view)
	resp, err := s.invoker.Invoke(ctx, llm.PromptSpec{
		System:      treatmentSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return model.Failure(fmt.Sprintf("treatment planning: %v", err), llm.IsRetryable(err))
	}

	var plan model.TreatmentPlan
	if err := resp.Decode(&plan); err != nil {
		return model.Failure(fmt.Sprintf("treatment planning: %v", err), true)
	}

	contraindications, warning := s.crossReference(ctx, view.Patient, plan.Medications)
	plan.Contraindications = contraindications

	outcome := model.Success(model.StagePayload{Treatment: &plan}, primary.Confidence)
	if warning != "" {
		outcome = model.Degraded(model.StagePayload{Treatment: &plan}, primary.Confidence, warning)
	}
	return outcome
}

func (s *TreatmentPlanning) buildPrompt(primary model.Diagnosis, view View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis: %s (ICD-10 %s, confidence %.2f)\n", primary.Name, primary.ICD10Code, primary.Confidence)
	fmt.Fprintf(&b, "Patient: age %d, gender %s\n", view.Patient.Age, view.Patient.Gender)
	fmt.Fprintf(&b, "Allergies: %s\n", orNone(view.Patient.Allergies))
	fmt.Fprintf(&b, "Comorbidities: %s\n", orNone(view.Patient.MedicalHistory))
	fmt.Fprintf(&b, "Current medications: %s\n", orNone(view.Patient.CurrentMedications))

	if view.Evidence != nil {
		for _, vd := range view.Evidence.Validated {
			if vd.Diagnosis.Name == primary.Name && len(vd.Recommendations) > 0 {
				fmt.Fprintf(&b, "Evidence-based recommendations:\n%s\n", strings.Join(vd.Recommendations, "\n"))
			}
		}
	}
	return b.String()
}

// crossReference is the pure contraindication check: case-insensitive
// allergy name matching plus interaction-table lookups. A table failure
// degrades the result via the returned warning; it never fails the stage.
func (s *TreatmentPlanning) crossReference(ctx context.Context, patient model.Patient, meds []model.Medication) ([]model.Contraindication, string) {
	var found []model.Contraindication
	var warning string

	for _, med := range meds {
		for _, allergy := range patient.Allergies {
			if matchesAllergy(med.Name, allergy) {
				found = append(found, model.Contraindication{
					Medication:    med.Name,
					ConflictsWith: allergy,
					Kind:          "allergy",
					Severity:      model.SeverityCritical,
					Detail:        fmt.Sprintf("%s matches recorded allergy %q", med.Name, allergy),
				})
			}
		}

		findings, err := s.table.Check(ctx, med.Name, patient.Allergies, patient.CurrentMedications)
		if err != nil {
			s.logger.Warn("treatment planning: interaction lookup failed", "medication", med.Name, "error", err)
			warning = "interaction table unavailable; contraindication check incomplete"
			continue
		}
		for _, f := range findings {
			found = append(found, model.Contraindication{
				Medication:    f.Medication,
				ConflictsWith: f.With,
				Kind:          f.Kind,
				Severity:      f.Severity,
				Detail:        f.Detail,
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Severity.Rank() > found[j].Severity.Rank()
	})
	return found, warning
}

func matchesAllergy(medication, allergy string) bool {
	m := strings.ToLower(strings.TrimSpace(medication))
	a := strings.ToLower(strings.TrimSpace(allergy))
	if m == "" || a == "" {
		return false
	}
	return m == a || strings.Contains(m, a) || strings.Contains(a, m)
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
