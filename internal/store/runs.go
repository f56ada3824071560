package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/user/tagwatch/internal/model"
)

// RunRepo persists the runs table, mutated only by the Run
// Coordinator.
type RunRepo struct {
	db *sqlx.DB
}

type runRow struct {
	ID                 string         `db:"id"`
	StartedAt          time.Time      `db:"started_at"`
	FinishedAt         sql.NullTime   `db:"finished_at"`
	Status             string         `db:"status"`
	WorkerCount        int            `db:"worker_count"`
	TotalProperties    int            `db:"total_properties"`
	CompletedCount     int            `db:"completed_count"`
	FailedCount        int            `db:"failed_count"`
	UploadCompletedAt  sql.NullTime   `db:"upload_completed_at"`
	UploadDurationMs   sql.NullInt64  `db:"upload_duration_ms"`
	UploadSuccessCount sql.NullInt64  `db:"upload_success_count"`
	UploadFailedCount  sql.NullInt64  `db:"upload_failed_count"`
}

func (r runRow) toModel() model.Run {
	run := model.Run{
		ID:              r.ID,
		StartedAt:       r.StartedAt,
		Status:          model.RunStatus(r.Status),
		WorkerCount:     r.WorkerCount,
		TotalProperties: r.TotalProperties,
		CompletedCount:  r.CompletedCount,
		FailedCount:     r.FailedCount,
	}
	if r.FinishedAt.Valid {
		run.FinishedAt = r.FinishedAt.Time
	}
	if r.UploadCompletedAt.Valid {
		run.UploadStats = &model.UploadStats{
			CompletedAt:  r.UploadCompletedAt.Time,
			DurationMs:   r.UploadDurationMs.Int64,
			SuccessCount: int(r.UploadSuccessCount.Int64),
			FailedCount:  int(r.UploadFailedCount.Int64),
		}
	}
	return run
}

// Create inserts the initial run row at Run Coordinator startup, status
// "running".
func (r *RunRepo) Create(ctx context.Context, run model.Run) error {
	const q = `
		INSERT INTO runs (id, started_at, status, worker_count, total_properties, completed_count, failed_count)
		VALUES (:id, :started_at, :status, :worker_count, :total_properties, :completed_count, :failed_count)`

	_, err := r.db.NamedExecContext(ctx, q, runRow{
		ID:              run.ID,
		StartedAt:       run.StartedAt,
		Status:          string(run.Status),
		WorkerCount:     run.WorkerCount,
		TotalProperties: run.TotalProperties,
		CompletedCount:  run.CompletedCount,
		FailedCount:     run.FailedCount,
	})
	if err != nil {
		return fmt.Errorf("store: create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateCounts records the scheduler's running completed/failed tallies,
// polled by the Run Coordinator between phases.
func (r *RunRepo) UpdateCounts(ctx context.Context, runID string, completed, failed int) error {
	const q = `UPDATE runs SET completed_count = $2, failed_count = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, runID, completed, failed); err != nil {
		return fmt.Errorf("store: update run counts %s: %w", runID, err)
	}
	return nil
}

// Finish sets the terminal status and finish time.
func (r *RunRepo) Finish(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time) error {
	const q = `UPDATE runs SET status = $2, finished_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, runID, string(status), finishedAt); err != nil {
		return fmt.Errorf("store: finish run %s: %w", runID, err)
	}
	return nil
}

// RecordUploadStats fills in the Batch Uploader's post-pass summary.
func (r *RunRepo) RecordUploadStats(ctx context.Context, runID string, stats model.UploadStats) error {
	const q = `
		UPDATE runs
		SET upload_completed_at = $2, upload_duration_ms = $3, upload_success_count = $4, upload_failed_count = $5
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, runID, stats.CompletedAt, stats.DurationMs, stats.SuccessCount, stats.FailedCount)
	if err != nil {
		return fmt.Errorf("store: record upload stats %s: %w", runID, err)
	}
	return nil
}

// Get fetches a single run, used by the Run Coordinator to recover state
// after a restart.
func (r *RunRepo) Get(ctx context.Context, runID string) (model.Run, error) {
	const q = `
		SELECT id, started_at, finished_at, status, worker_count, total_properties,
		       completed_count, failed_count, upload_completed_at, upload_duration_ms,
		       upload_success_count, upload_failed_count
		FROM runs WHERE id = $1`

	var row runRow
	if err := r.db.GetContext(ctx, &row, q, runID); err != nil {
		return model.Run{}, fmt.Errorf("store: get run %s: %w", runID, err)
	}
	return row.toModel(), nil
}
