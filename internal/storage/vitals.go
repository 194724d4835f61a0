package storage

import (
	"context"
	"fmt"

	"github.com/aegismed/caseflow/internal/model"
)

// AppendVitals stores one snapshot in the patient's series. Snapshots
// are append-only; there is no update path.
func (db *DB) AppendVitals(ctx context.Context, snap model.VitalsSnapshot) error {
	err := withRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO vitals_snapshots (patient_id, recorded_at, heart_rate, systolic_bp, diastolic_bp,
			 temperature, oxygen_saturation, respiratory_rate)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			snap.PatientID, snap.Timestamp, snap.HeartRate, snap.SystolicBP, snap.DiastolicBP,
			snap.TemperatureC, snap.SpO2, snap.RespiratoryRate,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append vitals: %w", err)
	}
	return nil
}

// ListVitals returns a patient's snapshots in recording order, oldest first.
func (db *DB) ListVitals(ctx context.Context, patientID string) ([]model.VitalsSnapshot, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT patient_id, recorded_at, heart_rate, systolic_bp, diastolic_bp,
		 temperature, oxygen_saturation, respiratory_rate
		 FROM vitals_snapshots WHERE patient_id = $1
		 ORDER BY recorded_at ASC`, patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list vitals: %w", err)
	}
	defer rows.Close()

	var out []model.VitalsSnapshot
	for rows.Next() {
		var s model.VitalsSnapshot
		if err := rows.Scan(
			&s.PatientID, &s.Timestamp, &s.HeartRate, &s.SystolicBP, &s.DiastolicBP,
			&s.TemperatureC, &s.SpO2, &s.RespiratoryRate,
		); err != nil {
			return nil, fmt.Errorf("storage: scan vitals: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
