// Package interactions provides the drug interaction table collaborator.
//
// The treatment planning stage cross-references proposed medications
// against patient allergies and current medications through this
// contract. Lookup failures degrade the stage result; they never fail it.
package interactions

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegismed/caseflow/internal/model"
)

// Finding is one conflict reported by the table.
type Finding struct {
	Medication string
	With       string
	Kind       string // "class_allergy" or "drug_drug"
	Severity   model.FlagSeverity
	Detail     string
}

// Table looks up known conflicts for a proposed medication.
type Table interface {
	Check(ctx context.Context, medication string, allergies, currentMedications []string) ([]Finding, error)
}

// StaticTable is an in-memory Table seeded with common drug classes and
// interaction pairs. A production deployment would back this with a
// licensed drug database behind the same contract.
type StaticTable struct {
	classes      map[string]string              // generic name -> drug class
	interactions map[string]map[string]pairInfo // canonical pair -> info
}

type pairInfo struct {
	severity model.FlagSeverity
	detail   string
}

// NewStaticTable builds the seeded table.
func NewStaticTable() *StaticTable {
	t := &StaticTable{
		classes: map[string]string{
			"penicillin":       "penicillin",
			"amoxicillin":      "penicillin",
			"ampicillin":       "penicillin",
			"piperacillin":     "penicillin",
			"cephalexin":       "cephalosporin",
			"ceftriaxone":      "cephalosporin",
			"ibuprofen":        "nsaid",
			"naproxen":         "nsaid",
			"aspirin":          "nsaid",
			"sulfamethoxazole": "sulfonamide",
		},
		interactions: map[string]map[string]pairInfo{},
	}

	t.addPair("warfarin", "aspirin", model.SeverityHigh, "increased bleeding risk")
	t.addPair("warfarin", "ibuprofen", model.SeverityHigh, "increased bleeding risk")
	t.addPair("lisinopril", "ibuprofen", model.SeverityMedium, "reduced renal function, blunted antihypertensive effect")
	t.addPair("metformin", "prednisone", model.SeverityMedium, "impaired glycemic control")
	t.addPair("simvastatin", "clarithromycin", model.SeverityHigh, "rhabdomyolysis risk via CYP3A4 inhibition")
	t.addPair("azithromycin", "amiodarone", model.SeverityHigh, "QT prolongation")

	return t
}

func (t *StaticTable) addPair(a, b string, sev model.FlagSeverity, detail string) {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if t.interactions[a] == nil {
		t.interactions[a] = map[string]pairInfo{}
	}
	if t.interactions[b] == nil {
		t.interactions[b] = map[string]pairInfo{}
	}
	info := pairInfo{severity: sev, detail: detail}
	t.interactions[a][b] = info
	t.interactions[b][a] = info
}

// Check reports class-level allergy conflicts and known drug-drug
// interactions for one proposed medication. Pure lookup, deterministic.
func (t *StaticTable) Check(_ context.Context, medication string, allergies, currentMedications []string) ([]Finding, error) {
	med := strings.ToLower(strings.TrimSpace(medication))
	if med == "" {
		return nil, fmt.Errorf("interactions: empty medication name")
	}

	var findings []Finding

	// Class-level allergy match: flags derivatives the plain substring
	// check cannot see (e.g. amoxicillin against a penicillin allergy).
	if class, ok := t.classes[med]; ok {
		for _, allergy := range allergies {
			if strings.ToLower(strings.TrimSpace(allergy)) == class {
				findings = append(findings, Finding{
					Medication: medication,
					With:       allergy,
					Kind:       "class_allergy",
					Severity:   model.SeverityHigh,
					Detail:     fmt.Sprintf("%s belongs to the %s class", medication, class),
				})
			}
		}
	}

	for _, current := range currentMedications {
		cur := strings.ToLower(strings.TrimSpace(current))
		if info, ok := t.interactions[med][cur]; ok {
			findings = append(findings, Finding{
				Medication: medication,
				With:       current,
				Kind:       "drug_drug",
				Severity:   info.severity,
				Detail:     info.detail,
			})
		}
	}

	return findings, nil
}
