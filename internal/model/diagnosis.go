package model

// Urgency grades how quickly a diagnosis needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Diagnosis is a single candidate diagnosis produced by symptom analysis.
// Downstream stages consume it read-only.
type Diagnosis struct {
	Name               string   `json:"name"`
	ICD10Code          string   `json:"icd10_code"`
	Confidence         float32  `json:"confidence"`
	Reasoning          string   `json:"reasoning,omitempty"`
	Urgency            Urgency  `json:"urgency,omitempty"`
	SupportingSymptoms []string `json:"supporting_symptoms,omitempty"`
}

// DiagnosisResult is the symptom analysis stage payload: a differential
// ordered by confidence descending.
type DiagnosisResult struct {
	Diagnoses        []Diagnosis `json:"diagnoses"`
	RecommendedTests []string    `json:"recommended_tests,omitempty"`
	RedFlags         []string    `json:"red_flags,omitempty"`
}

// Primary returns the highest-confidence diagnosis.
func (r DiagnosisResult) Primary() (Diagnosis, bool) {
	if len(r.Diagnoses) == 0 {
		return Diagnosis{}, false
	}
	return r.Diagnoses[0], true
}

// Evidence is a literature citation supporting a validated diagnosis.
type Evidence struct {
	Title          string  `json:"title"`
	SourceURI      string  `json:"source_uri,omitempty"`
	Summary        string  `json:"summary,omitempty"`
	RelevanceScore float32 `json:"relevance_score"`
}

// ValidatedDiagnosis pairs a diagnosis with the evidence found for it.
type ValidatedDiagnosis struct {
	Diagnosis       Diagnosis  `json:"diagnosis"`
	Supported       bool       `json:"supported"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// EvidenceReport is the evidence validation stage payload.
type EvidenceReport struct {
	Validated []ValidatedDiagnosis `json:"validated_diagnoses"`
}
