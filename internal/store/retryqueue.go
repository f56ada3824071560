package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/user/tagwatch/internal/model"
)

// RetryQueueRepo persists the retry_queue table. State
// transitions are single-row compare-and-set updates gated on the prior
// status, so two Retry Queue Processor instances never double-claim one
// entry.
type RetryQueueRepo struct {
	db *sqlx.DB
}

type retryQueueRow struct {
	ID            string         `db:"id"`
	PropertyID    string         `db:"property_id"`
	RunID         string         `db:"run_id"`
	Reason        string         `db:"reason"`
	AttemptCount  int            `db:"attempt_count"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	NextRetryAt   time.Time      `db:"next_retry_at"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r retryQueueRow) toModel() model.RetryQueueEntry {
	entry := model.RetryQueueEntry{
		ID:           r.ID,
		PropertyID:   r.PropertyID,
		RunID:        r.RunID,
		Reason:       r.Reason,
		AttemptCount: r.AttemptCount,
		NextRetryAt:  r.NextRetryAt,
		Status:       model.RetryQueueEntryStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		entry.LastAttemptAt = r.LastAttemptAt.Time
	}
	return entry
}

// Enqueue satisfies scheduler.RetryQueueWriter: inserts a pending
// retry-queue row for a Phase-2 retryable failure.
func (r *RetryQueueRepo) Enqueue(ctx context.Context, entry model.RetryQueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO retry_queue (id, property_id, run_id, reason, attempt_count, next_retry_at, status, created_at, updated_at)
		VALUES (:id, :property_id, :run_id, :reason, :attempt_count, :next_retry_at, :status, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, q, retryQueueRow{
		ID:           entry.ID,
		PropertyID:   entry.PropertyID,
		RunID:        entry.RunID,
		Reason:       entry.Reason,
		AttemptCount: entry.AttemptCount,
		NextRetryAt:  entry.NextRetryAt,
		Status:       string(entry.Status),
		CreatedAt:    entry.CreatedAt,
		UpdatedAt:    entry.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("store: enqueue retry entry for property %s: %w", entry.PropertyID, err)
	}
	return nil
}

// FetchPending returns up to limit entries with next_retry_at <= now and
// status = pending, ordered oldest-due-first.
func (r *RetryQueueRepo) FetchPending(ctx context.Context, now time.Time, limit int) ([]model.RetryQueueEntry, error) {
	const q = `
		SELECT id, property_id, run_id, reason, attempt_count, last_attempt_at,
		       next_retry_at, status, created_at, updated_at
		FROM retry_queue
		WHERE status = 'pending' AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`

	var rows []retryQueueRow
	if err := r.db.SelectContext(ctx, &rows, q, now, limit); err != nil {
		return nil, fmt.Errorf("store: fetch pending retry entries: %w", err)
	}

	out := make([]model.RetryQueueEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// ClaimRetrying attempts to move one entry from pending to retrying,
// stamping last_attempt_at. Returns false, nil if another processor already
// claimed it (the compare-and-set lost).
func (r *RetryQueueRepo) ClaimRetrying(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `
		UPDATE retry_queue SET status = 'retrying', last_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, q, id, now)
	if err != nil {
		return false, fmt.Errorf("store: claim retry entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim retry entry %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkResolved transitions a retrying entry to resolved after a successful
// Phase-2 re-attempt.
func (r *RetryQueueRepo) MarkResolved(ctx context.Context, id string) error {
	const q = `UPDATE retry_queue SET status = 'resolved', updated_at = $2 WHERE id = $1 AND status = 'retrying'`
	if _, err := r.db.ExecContext(ctx, q, id, time.Now()); err != nil {
		return fmt.Errorf("store: mark retry entry %s resolved: %w", id, err)
	}
	return nil
}

// Reschedule records attemptCount (already incremented by the caller) and
// either returns the entry to pending with an exponential backoff delay, or
// marks it permanent_failure once attemptCount reaches
// model.MaxRetryAttempts.
func (r *RetryQueueRepo) Reschedule(ctx context.Context, id string, attemptCount int, reason string) error {
	now := time.Now()

	if attemptCount >= model.MaxRetryAttempts {
		const q = `UPDATE retry_queue SET status = 'permanent_failure', attempt_count = $2, reason = $3, updated_at = $4 WHERE id = $1 AND status = 'retrying'`
		if _, err := r.db.ExecContext(ctx, q, id, attemptCount, reason, now); err != nil {
			return fmt.Errorf("store: mark retry entry %s permanent_failure: %w", id, err)
		}
		return nil
	}

	backoff := 30 * time.Minute * time.Duration(1<<uint(attemptCount-1))
	const q = `
		UPDATE retry_queue
		SET status = 'pending', attempt_count = $2, reason = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'retrying'`
	if _, err := r.db.ExecContext(ctx, q, id, attemptCount, reason, now.Add(backoff), now); err != nil {
		return fmt.Errorf("store: reschedule retry entry %s: %w", id, err)
	}
	return nil
}
