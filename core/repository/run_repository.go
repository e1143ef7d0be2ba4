package repository

import (
	"time"

	"slice2series/core/models"

	"github.com/google/uuid"
)

// RunRepository handles database operations for conversion runs
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun stores a finished run with its task results and state events
func (r *RunRepository) SaveRun(run *models.Run, records []models.DiagnosticRecord) error {
	runID := uuid.New()
	if run.ID != "" {
		var err error
		runID, err = uuid.Parse(run.ID)
		if err != nil {
			return err
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, name, write_mode, workers, started_at, finished_at,
			tasks, completed, skipped, failed, bytes_written
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`,
		runID.String(),
		run.Name,
		run.WriteMode,
		run.Workers,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
		run.Tasks,
		run.Completed,
		run.Skipped,
		run.Failed,
		run.BytesWritten,
	)
	if err != nil {
		return err
	}

	for _, rec := range records {
		_, err = tx.Exec(`
			INSERT INTO task_results (
				run_id, variable, kind, output_path, worker_rank, status, elapsed_ns, steps,
				bytes_written, bytes_requested, bytes_actual, error, error_kind
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
			)
		`,
			runID.String(),
			rec.Variable,
			string(rec.Kind),
			rec.OutputPath,
			rec.Rank,
			string(rec.Status),
			int64(rec.Elapsed),
			rec.Steps,
			rec.BytesWritten,
			rec.BytesRequested,
			rec.BytesActual,
			rec.Error,
			rec.ErrorKind,
		)
		if err != nil {
			return err
		}

		for _, tr := range rec.Transitions {
			var from *models.TaskState
			if tr.From != "" {
				state := tr.From
				from = &state
			}
			if err := r.createTaskEventTx(tx, runID.String(), rec.Variable, tr.At, from, tr.To, tr.Reason); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	run.ID = runID.String()
	return nil
}

// createTaskEventTx creates a task event within a transaction
func (r *RunRepository) createTaskEventTx(tx *Tx, runID, variable string, at time.Time, from *models.TaskState, to models.TaskState, reason string) error {
	var fromState interface{}
	if from != nil {
		fromState = string(*from)
	}
	_, err := tx.Exec(`
		INSERT INTO task_events (run_id, variable, at, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID, variable, at.UnixMilli(), fromState, string(to), reason)
	return err
}

// GetRun retrieves a run by ID. It returns sql.ErrNoRows if there is none.
func (r *RunRepository) GetRun(id string) (*models.Run, error) {
	row := r.db.QueryRow(`
		SELECT id, name, write_mode, workers, started_at, finished_at,
			tasks, completed, skipped, failed, bytes_written
		FROM runs
		WHERE id = $1
	`, id)
	return scanRun(row)
}

// ListRuns lists the most recent runs first
func (r *RunRepository) ListRuns(limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT id, name, write_mode, workers, started_at, finished_at,
			tasks, completed, skipped, failed, bytes_written
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTaskResults retrieves the per-task records of a run
func (r *RunRepository) GetTaskResults(runID string) ([]models.DiagnosticRecord, error) {
	rows, err := r.db.Query(`
		SELECT variable, kind, output_path, worker_rank, status, elapsed_ns, steps,
			bytes_written, bytes_requested, bytes_actual, error, error_kind
		FROM task_results
		WHERE run_id = $1
		ORDER BY kind DESC, variable
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DiagnosticRecord
	for rows.Next() {
		var rec models.DiagnosticRecord
		var kind, status string
		var elapsed int64
		err := rows.Scan(
			&rec.Variable,
			&kind,
			&rec.OutputPath,
			&rec.Rank,
			&status,
			&elapsed,
			&rec.Steps,
			&rec.BytesWritten,
			&rec.BytesRequested,
			&rec.BytesActual,
			&rec.Error,
			&rec.ErrorKind,
		)
		if err != nil {
			return nil, err
		}
		rec.Kind = models.TaskKind(kind)
		rec.Status = models.TaskState(status)
		rec.Elapsed = time.Duration(elapsed)
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*models.Run, error) {
	var run models.Run
	var started, finished int64
	err := s.Scan(
		&run.ID,
		&run.Name,
		&run.WriteMode,
		&run.Workers,
		&started,
		&finished,
		&run.Tasks,
		&run.Completed,
		&run.Skipped,
		&run.Failed,
		&run.BytesWritten,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = time.UnixMilli(finished)
	return &run, nil
}
