// Package history persists a durable record of finished forecast runs.
// The in-memory job registry forgets jobs after the retention window; this
// repository is the long-term audit trail.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/database"
	"github.com/mkaravia/gridcast/internal/orchestrator"
)

// RunRecord is one finished run as stored in the history table.
type RunRecord struct {
	ID                  int64         `json:"id"`
	JobID               string        `json:"job_id"`
	Scenario            string        `json:"scenario"`
	TargetYear          int           `json:"target_year"`
	Status              string        `json:"status"`
	SectorsCompleted    int           `json:"sectors_completed"`
	SectorsExistingData int           `json:"sectors_existing_data"`
	SectorsFailed       int           `json:"sectors_failed"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          time.Time     `json:"finished_at"`
	Duration            time.Duration `json:"duration_ms"`
}

// Repository stores run history in SQLite.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the repository and ensures the schema exists.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("component", "run_history").Logger(),
	}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize run history schema: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			scenario TEXT NOT NULL,
			target_year INTEGER NOT NULL,
			status TEXT NOT NULL,
			sectors_completed INTEGER NOT NULL,
			sectors_existing_data INTEGER NOT NULL,
			sectors_failed INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_history_scenario ON run_history(scenario);
		CREATE INDEX IF NOT EXISTS idx_run_history_started ON run_history(started_at DESC);
	`)
	return err
}

// RecordRun stores a finished run. Implements orchestrator.RunObserver;
// a storage failure is logged, never propagated into the job.
func (r *Repository) RecordRun(summary *orchestrator.RunSummary) {
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO run_history
				(job_id, scenario, target_year, status,
				 sectors_completed, sectors_existing_data, sectors_failed,
				 started_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.JobID, summary.Scenario, summary.TargetYear, summary.Status,
			summary.SectorsCompleted, summary.SectorsExistingData, summary.SectorsFailed,
			summary.StartedAt, summary.FinishedAt, summary.TotalDuration.Milliseconds(),
		)
		return err
	})
	if err != nil {
		r.log.Error().Err(err).Str("job_id", summary.JobID).Msg("Failed to record run history")
		return
	}
	r.log.Debug().Str("job_id", summary.JobID).Str("scenario", summary.Scenario).Msg("Run recorded")
}

// Recent returns the most recent runs, newest first.
func (r *Repository) Recent(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.query(`
		SELECT id, job_id, scenario, target_year, status,
		       sectors_completed, sectors_existing_data, sectors_failed,
		       started_at, finished_at, duration_ms
		FROM run_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
}

// ByScenario returns every recorded run of one scenario, newest first.
func (r *Repository) ByScenario(scenario string) ([]RunRecord, error) {
	return r.query(`
		SELECT id, job_id, scenario, target_year, status,
		       sectors_completed, sectors_existing_data, sectors_failed,
		       started_at, finished_at, duration_ms
		FROM run_history
		WHERE scenario = ?
		ORDER BY started_at DESC, id DESC`, scenario)
}

func (r *Repository) query(q string, args ...interface{}) ([]RunRecord, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("run history query failed: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durationMs int64
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.Scenario, &rec.TargetYear, &rec.Status,
			&rec.SectorsCompleted, &rec.SectorsExistingData, &rec.SectorsFailed,
			&rec.StartedAt, &rec.FinishedAt, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("run history scan failed: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}
