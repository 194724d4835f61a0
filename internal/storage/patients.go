package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aegismed/caseflow/internal/model"
)

// UpsertPatient inserts or replaces a patient record.
func (db *DB) UpsertPatient(ctx context.Context, p model.Patient) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO patients (patient_id, name, age, gender, medical_history, allergies, current_medications)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (patient_id) DO UPDATE SET
		   name = EXCLUDED.name,
		   age = EXCLUDED.age,
		   gender = EXCLUDED.gender,
		   medical_history = EXCLUDED.medical_history,
		   allergies = EXCLUDED.allergies,
		   current_medications = EXCLUDED.current_medications,
		   updated_at = now()`,
		p.ID, p.Name, p.Age, p.Gender, p.MedicalHistory, p.Allergies, p.CurrentMedications,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert patient: %w", err)
	}
	return nil
}

// GetPatient retrieves a patient by ID.
func (db *DB) GetPatient(ctx context.Context, patientID string) (model.Patient, error) {
	var p model.Patient
	err := db.pool.QueryRow(ctx,
		`SELECT patient_id, name, age, gender, medical_history, allergies, current_medications
		 FROM patients WHERE patient_id = $1`, patientID,
	).Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.MedicalHistory, &p.Allergies, &p.CurrentMedications)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Patient{}, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
		}
		return model.Patient{}, fmt.Errorf("storage: get patient: %w", err)
	}
	return p, nil
}
