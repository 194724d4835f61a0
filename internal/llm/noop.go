package llm

import "context"

// Noop is a model-free Invoker for development and smoke tests. It
// returns a fixed completion whose fields satisfy every stage schema:
// one low-confidence placeholder diagnosis, an empty medication list,
// and passing compliance checks. The pipeline runs end to end without a
// model but every result is marked by the placeholder reasoning text.
type Noop struct{}

const noopContent = `{
  "diagnoses": [
    {
      "name": "Unspecified condition",
      "icd10_code": "R69",
      "confidence": 0.2,
      "reasoning": "placeholder response, no model configured",
      "urgency": "routine",
      "supporting_symptoms": []
    }
  ],
  "recommended_tests": [],
  "red_flags": [],
  "medications": [],
  "non_pharmacological": ["Clinical evaluation required"],
  "monitoring": {"vital_signs": [], "frequency": ""},
  "follow_up": "Refer for in-person assessment",
  "patient_education": [],
  "hipaa": {"passed": true, "rationale": "no identifiable data shared"},
  "fda": {"passed": true, "rationale": "no medications proposed"},
  "ethics": {"passed": true, "rationale": "placeholder review"},
  "risk_level": "low",
  "recommendation": "approve_with_caveats",
  "concerns": ["no language model configured"],
  "confidence": 0.2
}`

func (Noop) Invoke(_ context.Context, _ PromptSpec) (StructuredResponse, error) {
	return StructuredResponse{Content: noopContent, Model: "noop"}, nil
}
