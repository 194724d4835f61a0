package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/testutil"
	"github.com/aegismed/caseflow/internal/vitals"
)

const cleanReviewJSON = `{
	"hipaa": {"passed": true, "rationale": "no identifiable data shared"},
	"fda": {"passed": true, "rationale": "approved medications only"},
	"ethics": {"passed": true, "rationale": "no concerns"},
	"risk_level": "low",
	"recommendation": "approve",
	"concerns": [],
	"confidence": 0.9
}`

func reviewView(meds []model.Medication, contras []model.Contraindication) View {
	v := diagnosisView(model.Diagnosis{Name: "Influenza", ICD10Code: "J11.1", Confidence: 0.8, Urgency: model.UrgencyMedium})
	v.Treatment = &model.TreatmentPlan{Medications: meds, Contraindications: contras}
	return v
}

func TestSafetyReview_CleanPlanApproved(t *testing.T) {
	inv := &fakeInvoker{content: cleanReviewJSON}
	s := NewSafetyReview(inv, testutil.TestLogger())

	outcome := s.Run(context.Background(), reviewView(
		[]model.Medication{{Name: "Oseltamivir", Dose: "75mg"}}, nil))

	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, float32(0.9), outcome.Confidence)
	review := outcome.Payload.Safety
	require.NotNil(t, review)
	assert.True(t, review.Compliant())
	assert.Equal(t, model.RecommendApprove, review.Recommendation)
	assert.Equal(t, model.RiskLow, review.RiskLevel)
}

func TestSafetyReview_UnapprovedMedicationEscalates(t *testing.T) {
	inv := &fakeInvoker{content: cleanReviewJSON}
	s := NewSafetyReview(inv, testutil.TestLogger())

	outcome := s.Run(context.Background(), reviewView(
		[]model.Medication{{Name: "Experimentazol", Dose: "10mg"}}, nil))

	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	review := outcome.Payload.Safety
	assert.False(t, review.FDA.Passed, "rules override a passing model verdict")
	assert.Equal(t, model.RiskHigh, review.RiskLevel)
	assert.Equal(t, model.RecommendReject, review.Recommendation)
	assert.NotEmpty(t, review.Concerns)
}

func TestSafetyReview_AllergyConflictFailsEthics(t *testing.T) {
	inv := &fakeInvoker{content: cleanReviewJSON}
	s := NewSafetyReview(inv, testutil.TestLogger())

	view := reviewView([]model.Medication{{Name: "Amoxicillin", Dose: "500mg"}}, nil)
	view.Patient.Allergies = []string{"amoxicillin"}

	outcome := s.Run(context.Background(), view)

	review := outcome.Payload.Safety
	assert.False(t, review.Ethics.Passed)
	assert.Equal(t, model.RecommendReject, review.Recommendation)
}

func TestSafetyReview_HighContraindicationRaisesRisk(t *testing.T) {
	inv := &fakeInvoker{content: cleanReviewJSON}
	s := NewSafetyReview(inv, testutil.TestLogger())

	outcome := s.Run(context.Background(), reviewView(
		[]model.Medication{{Name: "Ibuprofen"}},
		[]model.Contraindication{{Medication: "Ibuprofen", ConflictsWith: "Warfarin", Kind: "drug_drug", Severity: model.SeverityHigh}},
	))

	review := outcome.Payload.Safety
	assert.Equal(t, model.RiskHigh, review.RiskLevel)
	assert.True(t, review.Compliant(), "a contraindication raises risk without failing compliance")
	assert.Equal(t, model.RecommendApproveWithCaveats, review.Recommendation)
}

func TestSafetyReview_AgeConcerns(t *testing.T) {
	inv := &fakeInvoker{content: cleanReviewJSON}
	s := NewSafetyReview(inv, testutil.TestLogger())

	t.Run("pediatric", func(t *testing.T) {
		view := reviewView(nil, nil)
		view.Patient.Age = 12
		outcome := s.Run(context.Background(), view)
		review := outcome.Payload.Safety
		require.NotEmpty(t, review.Concerns)
		assert.Contains(t, review.Concerns[0], "guardian consent")
		assert.Equal(t, model.RecommendApproveWithCaveats, review.Recommendation)
	})

	t.Run("geriatric", func(t *testing.T) {
		view := reviewView(nil, nil)
		view.Patient.Age = 78
		outcome := s.Run(context.Background(), view)
		review := outcome.Payload.Safety
		require.NotEmpty(t, review.Concerns)
		assert.Contains(t, review.Concerns[0], "polypharmacy")
	})
}

func TestSafetyReview_ModelConfidenceOutOfRangeDefaults(t *testing.T) {
	inv := &fakeInvoker{content: `{
		"hipaa": {"passed": true}, "fda": {"passed": true}, "ethics": {"passed": true},
		"risk_level": "low", "recommendation": "approve", "confidence": 0
	}`}
	s := NewSafetyReview(inv, testutil.TestLogger())

	outcome := s.Run(context.Background(), reviewView(nil, nil))

	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, float32(0.8), outcome.Confidence)
}

func TestSafetyReview_MissingUpstreamIsTerminal(t *testing.T) {
	s := NewSafetyReview(&fakeInvoker{content: cleanReviewJSON}, testutil.TestLogger())

	outcome := s.Run(context.Background(), caseView())

	require.Equal(t, model.OutcomeFailed, outcome.Kind)
	assert.False(t, outcome.Retryable)
}

func TestVitalsMonitoringStage_RunsClassification(t *testing.T) {
	s := NewVitalsMonitoring(vitals.DefaultThresholds())

	outcome := s.Run(context.Background(), View{
		Snapshot: model.VitalsSnapshot{PatientID: "p-1", HeartRate: 125},
	})

	require.Equal(t, model.OutcomeSuccess, outcome.Kind)
	require.NotNil(t, outcome.Payload.Vitals)
	assert.True(t, outcome.Payload.Vitals.Critical)
}

func TestVitalsMonitoringStage_MissingPatientIDFails(t *testing.T) {
	s := NewVitalsMonitoring(vitals.DefaultThresholds())

	outcome := s.Run(context.Background(), View{Snapshot: model.VitalsSnapshot{HeartRate: 90}})

	require.Equal(t, model.OutcomeFailed, outcome.Kind)
	assert.False(t, outcome.Retryable)
}
