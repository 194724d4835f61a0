package model

import "strings"

// Gender enumerates patient gender values.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Patient holds demographic and clinical background data.
// Read-only inside the pipeline; loaded once per case from storage.
type Patient struct {
	ID                 string   `json:"patient_id"`
	Name               string   `json:"name"`
	Age                int      `json:"age"`
	Gender             Gender   `json:"gender"`
	MedicalHistory     []string `json:"medical_history"`
	Allergies          []string `json:"allergies"`
	CurrentMedications []string `json:"current_medications"`
}

// HasAllergy reports whether name matches any recorded allergy,
// case-insensitively, by exact or substring match in either direction.
func (p Patient) HasAllergy(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, a := range p.Allergies {
		al := strings.ToLower(strings.TrimSpace(a))
		if al == "" {
			continue
		}
		if al == n || strings.Contains(n, al) || strings.Contains(al, n) {
			return true
		}
	}
	return false
}

// Symptom is a single reported symptom. Severity is on a 1-10 scale.
type Symptom struct {
	Name         string `json:"name"`
	Severity     int    `json:"severity"`
	DurationDays int    `json:"duration_days"`
	Description  string `json:"description,omitempty"`
}

// Symptoms is the immutable symptom input attached to a case.
type Symptoms struct {
	Symptoms       []Symptom `json:"symptoms"`
	ChiefComplaint string    `json:"chief_complaint"`
	Onset          string    `json:"onset"`
}

// Names returns the symptom names in reported order.
func (s Symptoms) Names() []string {
	names := make([]string, len(s.Symptoms))
	for i, sym := range s.Symptoms {
		names[i] = sym.Name
	}
	return names
}
