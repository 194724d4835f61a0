package workflow

import (
	"errors"
	"fmt"

	"github.com/aegismed/caseflow/internal/model"
)

// ErrInvalidInput marks a precondition violation. Never retried; no
// stage is invoked and the case status stays Pending.
var ErrInvalidInput = errors.New("workflow: invalid input")

// TerminalStageError describes a pipeline halt: retries exhausted or a
// collaborator reported a non-retryable failure. It is carried inside
// the returned CaseResult, not thrown across the API boundary.
type TerminalStageError struct {
	Stage  model.StageName
	Reason string
}

func (e *TerminalStageError) Error() string {
	return fmt.Sprintf("workflow: stage %s failed: %s", e.Stage, e.Reason)
}

// AggregationError indicates aggregation produced an internally
// inconsistent result. Aggregation is pure and deterministic, so any
// occurrence is a programming defect; Aggregate panics with this type
// rather than letting a corrupt record flow onward.
type AggregationError struct {
	Detail string
}

func (e *AggregationError) Error() string {
	return "workflow: aggregation invariant violated: " + e.Detail
}
