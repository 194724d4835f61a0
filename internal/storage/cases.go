package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegismed/caseflow/internal/model"
)

// SaveCaseResult upserts an aggregated case result, audit trail included.
// Re-running a case overwrites its previous row; the trail inside the
// result already carries every attempt.
func (db *DB) SaveCaseResult(ctx context.Context, r model.CaseResult) error {
	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	err := withRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO case_results (case_id, patient_id, status, is_complete, overall_confidence,
			 diagnosis, evidence, treatment, safety, flags, failed_stage, failure_reason, trail, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (case_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   is_complete = EXCLUDED.is_complete,
			   overall_confidence = EXCLUDED.overall_confidence,
			   diagnosis = EXCLUDED.diagnosis,
			   evidence = EXCLUDED.evidence,
			   treatment = EXCLUDED.treatment,
			   safety = EXCLUDED.safety,
			   flags = EXCLUDED.flags,
			   failed_stage = EXCLUDED.failed_stage,
			   failure_reason = EXCLUDED.failure_reason,
			   trail = EXCLUDED.trail,
			   completed_at = EXCLUDED.completed_at,
			   updated_at = now()`,
			r.CaseID, r.PatientID, r.Status, r.IsComplete, r.OverallConfidence,
			r.Diagnosis, r.Evidence, r.Treatment, r.Safety, r.Flags,
			r.FailedStage, r.FailureReason, r.Trail, completedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: save case result: %w", err)
	}
	return nil
}

// GetCaseResult retrieves a stored case result by case ID.
func (db *DB) GetCaseResult(ctx context.Context, caseID uuid.UUID) (model.CaseResult, error) {
	var (
		r           model.CaseResult
		completedAt *time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT case_id, patient_id, status, is_complete, overall_confidence,
		 diagnosis, evidence, treatment, safety, flags, failed_stage, failure_reason, trail, completed_at
		 FROM case_results WHERE case_id = $1`, caseID,
	).Scan(
		&r.CaseID, &r.PatientID, &r.Status, &r.IsComplete, &r.OverallConfidence,
		&r.Diagnosis, &r.Evidence, &r.Treatment, &r.Safety, &r.Flags,
		&r.FailedStage, &r.FailureReason, &r.Trail, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CaseResult{}, fmt.Errorf("%w: case %s", ErrNotFound, caseID)
		}
		return model.CaseResult{}, fmt.Errorf("storage: get case result: %w", err)
	}
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	return r, nil
}

// ListCaseResultsByPatient returns a patient's case results, newest first.
func (db *DB) ListCaseResultsByPatient(ctx context.Context, patientID string, limit int) ([]model.CaseResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT case_id, patient_id, status, is_complete, overall_confidence,
		 diagnosis, evidence, treatment, safety, flags, failed_stage, failure_reason, trail, completed_at
		 FROM case_results WHERE patient_id = $1
		 ORDER BY updated_at DESC LIMIT $2`, patientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list case results: %w", err)
	}
	defer rows.Close()

	var out []model.CaseResult
	for rows.Next() {
		var (
			r           model.CaseResult
			completedAt *time.Time
		)
		if err := rows.Scan(
			&r.CaseID, &r.PatientID, &r.Status, &r.IsComplete, &r.OverallConfidence,
			&r.Diagnosis, &r.Evidence, &r.Treatment, &r.Safety, &r.Flags,
			&r.FailedStage, &r.FailureReason, &r.Trail, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan case result: %w", err)
		}
		if completedAt != nil {
			r.CompletedAt = *completedAt
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
