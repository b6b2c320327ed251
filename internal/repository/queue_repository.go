// internal/repository/queue_repository.go
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/prospectpilot-backend/internal/model"
)

// QueueRepositoryInterface is the Dispatch Queue contract: one scheduled-send
// entry per prospect per step, ordered by due time, with an atomic claim step
// so concurrent workers never process the same entry twice.
type QueueRepositoryInterface interface {
	// Enqueue is idempotent per (prospect_id, step_index): a second call for
	// the same pair returns the existing entry instead of creating a
	// duplicate scheduled send.
	Enqueue(ctx context.Context, prospectID string, stepIndex int, scheduledFor time.Time) (*model.QueueEntry, error)

	// ClaimDue atomically claims up to limit entries with scheduled_for <= now,
	// ordered earliest due first, ties broken by insertion order. Claimed
	// entries are invisible to other workers.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error)

	GetByID(ctx context.Context, id string) (*model.QueueEntry, error)
	MarkDispatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// Defer releases a claimed entry back to pending with a later due time
	// (e.g. the campaign's daily send limit is exhausted).
	Defer(ctx context.Context, id string, until time.Time) error

	// MarkTriggered records that a workflow runner accepted the batch; the
	// entry stays outstanding until a completion callback arrives.
	MarkTriggered(ctx context.Context, ids []string, executionID string) error

	// DeletePending clears outstanding unclaimed entries for a prospect
	// (replied prospects are never re-queued).
	DeletePending(ctx context.Context, prospectID string) error

	// RequeueStale releases entries stuck in claimed since before staleBefore
	// back to pending (crash recovery).
	RequeueStale(ctx context.Context, staleBefore time.Time) (int, error)
}

type QueueRepository struct {
	DB *sql.DB
}

const entryColumns = `
    id, prospect_id, step_index, scheduled_for, attempt_count, status,
    last_error, execution_id, claimed_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*model.QueueEntry, error) {
	var e model.QueueEntry
	// last_error and execution_id are NULL until first failure / first
	// trigger respectively.
	var lastError, executionID sql.NullString
	err := row.Scan(
		&e.ID, &e.ProspectID, &e.StepIndex, &e.ScheduledFor, &e.AttemptCount, &e.Status,
		&lastError, &executionID, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.LastError = lastError.String
	e.ExecutionID = executionID.String
	return &e, nil
}

func (r *QueueRepository) Enqueue(ctx context.Context, prospectID string, stepIndex int, scheduledFor time.Time) (*model.QueueEntry, error) {
	query := `
        INSERT INTO dispatch_queue
            (id, prospect_id, step_index, scheduled_for, attempt_count, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, 'pending', NOW(), NOW())
        ON CONFLICT (prospect_id, step_index) DO NOTHING
        RETURNING` + entryColumns

	entry, err := scanEntry(r.DB.QueryRowContext(ctx, query, uuid.NewString(), prospectID, stepIndex, scheduledFor))
	if err == nil {
		return entry, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Conflict: the pair is already scheduled, return the existing entry.
	query = `SELECT` + entryColumns + ` FROM dispatch_queue WHERE prospect_id=$1 AND step_index=$2`
	return scanEntry(r.DB.QueryRowContext(ctx, query, prospectID, stepIndex))
}

func (r *QueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error) {
	// SKIP LOCKED makes the claim atomic across workers: each pending row is
	// handed to exactly one claimant.
	query := `
        UPDATE dispatch_queue
        SET status='claimed', claimed_at=NOW(), attempt_count=attempt_count+1, updated_at=NOW()
        WHERE id IN (
            SELECT id FROM dispatch_queue
            WHERE status='pending' AND scheduled_for <= $1
            ORDER BY scheduled_for ASC, created_at ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING` + entryColumns

	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.QueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	query := `SELECT` + entryColumns + ` FROM dispatch_queue WHERE id=$1`
	entry, err := scanEntry(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (r *QueueRepository) MarkDispatched(ctx context.Context, id string) error {
	query := `UPDATE dispatch_queue SET status='dispatched', updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `UPDATE dispatch_queue SET status='failed', last_error=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, reason, id)
	return err
}

func (r *QueueRepository) Defer(ctx context.Context, id string, until time.Time) error {
	query := `
        UPDATE dispatch_queue
        SET status='pending', claimed_at=NULL, scheduled_for=$1, updated_at=NOW()
        WHERE id=$2 AND status='claimed'
    `
	_, err := r.DB.ExecContext(ctx, query, until, id)
	return err
}

func (r *QueueRepository) MarkTriggered(ctx context.Context, ids []string, executionID string) error {
	query := `
        UPDATE dispatch_queue
        SET status='triggered', execution_id=$1, updated_at=NOW()
        WHERE id = ANY($2) AND status='claimed'
    `
	_, err := r.DB.ExecContext(ctx, query, executionID, pq.Array(ids))
	return err
}

func (r *QueueRepository) DeletePending(ctx context.Context, prospectID string) error {
	query := `DELETE FROM dispatch_queue WHERE prospect_id=$1 AND status='pending'`
	_, err := r.DB.ExecContext(ctx, query, prospectID)
	return err
}

func (r *QueueRepository) RequeueStale(ctx context.Context, staleBefore time.Time) (int, error) {
	query := `
        UPDATE dispatch_queue
        SET status='pending', claimed_at=NULL, updated_at=NOW()
        WHERE status='claimed' AND claimed_at < $1
    `
	res, err := r.DB.ExecContext(ctx, query, staleBefore)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ QueueRepositoryInterface = (*QueueRepository)(nil)
