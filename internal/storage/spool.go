package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegismed/caseflow/internal/model"
)

// Spool is a local crash-durable buffer for case results that could not
// reach Postgres. Results land in a single-file SQLite database and are
// drained back to the primary store on the next startup, so an audit
// trail survives a halted or cancelled run even with the database down.
type Spool struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSpool opens (or creates) the spool file at path.
func OpenSpool(path string, logger *slog.Logger) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open spool: %w", err)
	}
	// A single writer is enough; the spool is written on the failure
	// path only.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spooled_case_results (
			case_id    TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			spooled_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init spool schema: %w", err)
	}
	return &Spool{db: db, logger: logger}, nil
}

// SpoolCaseState writes a case result to the local spool. Synchronous;
// when it returns nil the row is on disk.
func (s *Spool) SpoolCaseState(result model.CaseResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("storage: encode spooled result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO spooled_case_results (case_id, payload, spooled_at) VALUES (?, ?, ?)
		 ON CONFLICT (case_id) DO UPDATE SET payload = excluded.payload, spooled_at = excluded.spooled_at`,
		result.CaseID.String(), string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: spool case result: %w", err)
	}
	return nil
}

// Pending returns all spooled case results, oldest first.
func (s *Spool) Pending(ctx context.Context) ([]model.CaseResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM spooled_case_results ORDER BY spooled_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: read spool: %w", err)
	}
	defer rows.Close()

	var out []model.CaseResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan spool row: %w", err)
		}
		var r model.CaseResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("storage: decode spooled result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Drain replays spooled results into the primary store, deleting each
// row only after its save succeeds. Partial drains are safe to retry.
func (s *Spool) Drain(ctx context.Context, db *DB) error {
	pending, err := s.Pending(ctx)
	if err != nil {
		return err
	}
	for _, r := range pending {
		if err := db.SaveCaseResult(ctx, r); err != nil {
			return fmt.Errorf("storage: drain spool: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM spooled_case_results WHERE case_id = ?`, r.CaseID.String()); err != nil {
			return fmt.Errorf("storage: clear spooled result: %w", err)
		}
		s.logger.Info("drained spooled case result", "case_id", r.CaseID)
	}
	return nil
}

// Close closes the spool file.
func (s *Spool) Close() error {
	return s.db.Close()
}
