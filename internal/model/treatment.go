package model

// Medication is one prescribed drug in a treatment plan.
type Medication struct {
	Name        string   `json:"name"`
	Dose        string   `json:"dose"`
	Frequency   string   `json:"frequency"`
	Duration    string   `json:"duration,omitempty"`
	Route       string   `json:"route,omitempty"`
	Precautions []string `json:"precautions,omitempty"`
}

// MonitoringPlan describes follow-up observation for a treatment.
type MonitoringPlan struct {
	VitalSigns []string `json:"vital_signs"`
	LabTests   []string `json:"lab_tests,omitempty"`
	Frequency  string   `json:"frequency"`
}

// Contraindication is a flagged conflict between a proposed medication
// and the patient's allergies or current medications. Produced by a pure
// cross-reference, never by an LLM call.
type Contraindication struct {
	Medication    string       `json:"medication"`
	ConflictsWith string       `json:"conflicts_with"`
	Kind          string       `json:"kind"` // "allergy" or "interaction"
	Severity      FlagSeverity `json:"severity"`
	Detail        string       `json:"detail,omitempty"`
}

// TreatmentPlan is the treatment planning stage payload.
type TreatmentPlan struct {
	Medications        []Medication       `json:"medications"`
	NonPharmacological []string           `json:"non_pharmacological,omitempty"`
	Monitoring         MonitoringPlan     `json:"monitoring"`
	FollowUp           string             `json:"follow_up,omitempty"`
	PatientEducation   []string           `json:"patient_education,omitempty"`
	Contraindications  []Contraindication `json:"contraindications,omitempty"`
}
