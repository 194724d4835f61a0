// Package model defines the clinical data model shared by the workflow
// engine, stage adapters, storage layer, and HTTP handlers.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Case is one patient encounter moving through the pipeline.
// The symptom input is immutable after creation; the engine owns the
// case for exactly one Execute call.
type Case struct {
	ID        uuid.UUID `json:"case_id"`
	PatientID string    `json:"patient_id"`
	Symptoms  Symptoms  `json:"symptoms"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCase creates a case with a fresh ID and creation timestamp.
func NewCase(patientID string, symptoms Symptoms) Case {
	return Case{
		ID:        uuid.New(),
		PatientID: patientID,
		Symptoms:  symptoms,
		CreatedAt: time.Now().UTC(),
	}
}

// StageName identifies a pipeline stage.
type StageName string

const (
	StageSymptomAnalysis    StageName = "symptom_analysis"
	StageEvidenceValidation StageName = "evidence_validation"
	StageTreatmentPlanning  StageName = "treatment_planning"
	StageSafetyReview       StageName = "safety_review"
	StageVitalsMonitoring   StageName = "vitals_monitoring"
)

// PipelineStages is the fixed topological order of the case pipeline.
// VitalsMonitoring is intentionally absent: it runs outside the sequence.
var PipelineStages = []StageName{
	StageSymptomAnalysis,
	StageEvidenceValidation,
	StageTreatmentPlanning,
	StageSafetyReview,
}

// Status tracks a case's progress through the pipeline.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAnalyzing       Status = "analyzing"
	StatusValidating      Status = "validating"
	StatusPlanning        Status = "planning"
	StatusReviewingSafety Status = "reviewing_safety"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// statusRank orders the non-terminal-failure statuses for the
// monotonicity check. Failed is absorbing and handled separately.
var statusRank = map[Status]int{
	StatusPending:         0,
	StatusAnalyzing:       1,
	StatusValidating:      2,
	StatusPlanning:        3,
	StatusReviewingSafety: 4,
	StatusCompleted:       5,
}

// InProgressStatus maps a stage to the status set before invoking it.
func InProgressStatus(stage StageName) Status {
	switch stage {
	case StageSymptomAnalysis:
		return StatusAnalyzing
	case StageEvidenceValidation:
		return StatusValidating
	case StageTreatmentPlanning:
		return StatusPlanning
	case StageSafetyReview:
		return StatusReviewingSafety
	}
	return StatusPending
}

// OutcomeKind tags the StageOutcome variant.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeDegraded OutcomeKind = "degraded"
	OutcomeFailed   OutcomeKind = "failed"
)

// StagePayload carries the stage-specific result. Exactly one field is
// non-nil for a Success or Degraded outcome of a pipeline stage.
type StagePayload struct {
	Diagnosis *DiagnosisResult `json:"diagnosis,omitempty"`
	Evidence  *EvidenceReport  `json:"evidence,omitempty"`
	Treatment *TreatmentPlan   `json:"treatment,omitempty"`
	Safety    *SafetyReview    `json:"safety,omitempty"`
	Vitals    *VitalsReport    `json:"vitals,omitempty"`
}

// StageOutcome is the tagged result of one stage attempt:
// Success carries a payload and confidence, Degraded additionally a
// warning, Failed a reason and retryability flag.
type StageOutcome struct {
	Kind       OutcomeKind  `json:"kind"`
	Payload    StagePayload `json:"payload,omitempty"`
	Confidence float32      `json:"confidence"`
	Citations  []Evidence   `json:"citations,omitempty"`
	Warning    string       `json:"warning,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Retryable  bool         `json:"retryable,omitempty"`
}

// Usable reports whether downstream stages may build on this outcome.
func (o StageOutcome) Usable() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeDegraded
}

// Success builds a Success outcome.
func Success(payload StagePayload, confidence float32) StageOutcome {
	return StageOutcome{Kind: OutcomeSuccess, Payload: payload, Confidence: confidence}
}

// Degraded builds a Degraded outcome: usable data with a caveat.
func Degraded(payload StagePayload, confidence float32, warning string) StageOutcome {
	return StageOutcome{Kind: OutcomeDegraded, Payload: payload, Confidence: confidence, Warning: warning}
}

// Failure builds a Failed outcome.
func Failure(reason string, retryable bool) StageOutcome {
	return StageOutcome{Kind: OutcomeFailed, Reason: reason, Retryable: retryable}
}

// StageRecord is one audit entry: a stage attempt and its outcome.
type StageRecord struct {
	Stage      StageName    `json:"stage"`
	Attempt    int          `json:"attempt"`
	Outcome    StageOutcome `json:"outcome"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// CaseState is the append-only record of a case's progress. Entries are
// never edited or removed; Status moves forward only, except for the
// absorbing Failed transition.
type CaseState struct {
	caseID  uuid.UUID
	status  Status
	entries []StageRecord
}

// NewCaseState creates a pending state for the given case.
func NewCaseState(caseID uuid.UUID) *CaseState {
	return &CaseState{caseID: caseID, status: StatusPending}
}

// CaseID returns the owning case's ID.
func (s *CaseState) CaseID() uuid.UUID { return s.caseID }

// Status returns the current status.
func (s *CaseState) Status() Status { return s.status }

// Append records a stage attempt. Attempt numbering is per stage,
// starting at 1.
func (s *CaseState) Append(stage StageName, outcome StageOutcome) StageRecord {
	attempt := 1
	for _, e := range s.entries {
		if e.Stage == stage {
			attempt = e.Attempt + 1
		}
	}
	rec := StageRecord{
		Stage:      stage,
		Attempt:    attempt,
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	}
	s.entries = append(s.entries, rec)
	return rec
}

// Entries returns a copy of the audit trail in recorded order.
func (s *CaseState) Entries() []StageRecord {
	out := make([]StageRecord, len(s.entries))
	copy(out, s.entries)
	return out
}

// Latest returns the most recent record for the given stage.
func (s *CaseState) Latest(stage StageName) (StageRecord, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Stage == stage {
			return s.entries[i], true
		}
	}
	return StageRecord{}, false
}

// Transition moves the status forward. Failed is reachable from any
// non-terminal status; all other transitions must not regress.
func (s *CaseState) Transition(next Status) error {
	if s.status == StatusFailed || s.status == StatusCompleted {
		return fmt.Errorf("model: status %s is terminal", s.status)
	}
	if next == StatusFailed {
		s.status = next
		return nil
	}
	cur, ok := statusRank[s.status]
	nxt, nok := statusRank[next]
	if !ok || !nok {
		return fmt.Errorf("model: unknown status transition %s -> %s", s.status, next)
	}
	if nxt < cur {
		return fmt.Errorf("model: status regression %s -> %s", s.status, next)
	}
	s.status = next
	return nil
}

// caseStateJSON is the serialized form of CaseState for audit persistence.
type caseStateJSON struct {
	CaseID  uuid.UUID     `json:"case_id"`
	Status  Status        `json:"status"`
	Entries []StageRecord `json:"entries"`
}

// MarshalJSON serializes the state including its unexported audit trail.
func (s *CaseState) MarshalJSON() ([]byte, error) {
	return json.Marshal(caseStateJSON{CaseID: s.caseID, Status: s.status, Entries: s.entries})
}

// UnmarshalJSON restores a persisted state.
func (s *CaseState) UnmarshalJSON(data []byte) error {
	var raw caseStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.caseID = raw.CaseID
	s.status = raw.Status
	s.entries = raw.Entries
	return nil
}

// CaseResult is the terminal artifact of one pipeline run.
type CaseResult struct {
	CaseID            uuid.UUID        `json:"case_id"`
	PatientID         string           `json:"patient_id"`
	Status            Status           `json:"status"`
	IsComplete        bool             `json:"is_complete"`
	OverallConfidence float32          `json:"overall_confidence"`
	Diagnosis         *DiagnosisResult `json:"diagnosis,omitempty"`
	Evidence          *EvidenceReport  `json:"evidence,omitempty"`
	Treatment         *TreatmentPlan   `json:"treatment,omitempty"`
	Safety            *SafetyReview    `json:"safety,omitempty"`
	Flags             []Flag           `json:"flags,omitempty"`
	FailedStage       StageName        `json:"failed_stage,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	Trail             []StageRecord    `json:"trail"`
	CompletedAt       time.Time        `json:"completed_at"`
}

// FlagSeverity ranks merged risk/contraindication flags.
type FlagSeverity string

const (
	SeverityLow      FlagSeverity = "low"
	SeverityMedium   FlagSeverity = "medium"
	SeverityHigh     FlagSeverity = "high"
	SeverityCritical FlagSeverity = "critical"
)

// severityRank orders flag severities for descending sorts.
var severityRank = map[FlagSeverity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity (higher is worse).
func (s FlagSeverity) Rank() int { return severityRank[s] }

// Flag is a single ranked finding in a CaseResult, merged from the
// treatment contraindication check and the safety review.
type Flag struct {
	Source   StageName    `json:"source"`
	Severity FlagSeverity `json:"severity"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
}
