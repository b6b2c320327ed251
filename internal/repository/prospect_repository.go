// internal/repository/prospect_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
)

// ProspectRepositoryInterface is the Prospect Record Store contract. All
// status-mutating operations are conditional updates so per-prospect writes
// serialize correctly across concurrent workers: a write that finds the row
// in an unexpected state affects zero rows and surfaces as
// ErrConcurrencyConflict.
type ProspectRepositoryInterface interface {
	Create(ctx context.Context, p *model.Prospect) error
	GetByID(ctx context.Context, id string) (*model.Prospect, error)
	GetByProviderUserID(ctx context.Context, providerUserID string) (*model.Prospect, error)
	GetByProfileURL(ctx context.Context, profileURL string) (*model.Prospect, error)
	ListByCampaign(ctx context.Context, campaignID string, status string, offset, limit int) ([]*model.Prospect, error)

	// UpdateStatusIf moves a prospect from one status to another atomically.
	UpdateStatusIf(ctx context.Context, id string, from, to model.ProspectStatus) error

	// MarkQueued transitions to queued and stamps queued_at metadata.
	MarkQueued(ctx context.Context, id string, from model.ProspectStatus, step int, queuedAt time.Time) error

	// RecordDispatch persists the outcome of a confirmed send: provider id,
	// last_contacted_at, the post-dispatch status and the next step index.
	// Conditional on status=queued at the given step.
	RecordDispatch(ctx context.Context, id string, step int, providerUserID string, at time.Time, to model.ProspectStatus, nextStep int) error

	// MarkFailed is terminal and stores the human-readable reason.
	MarkFailed(ctx context.Context, id string, reason string) error

	// MarkConnected is idempotent: a second acceptance event affects zero
	// rows and returns (false, nil).
	MarkConnected(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkReplied is terminal for scheduling; reachable from dispatched or
	// connected. Idempotent like MarkConnected.
	MarkReplied(ctx context.Context, id string) (bool, error)

	// SetProviderUserID backfills the provider identity when an event carries
	// one the dispatch never recorded.
	SetProviderUserID(ctx context.Context, id, providerUserID string) error

	// CancelPipeline atomically cancels every pending/approved/queued
	// prospect of a campaign and removes their pending queue entries.
	// Prospects already dispatched or beyond are untouched.
	CancelPipeline(ctx context.Context, campaignID string) (int, error)

	// ResetFailed is the explicit administrative re-entry from failed.
	ResetFailed(ctx context.Context, id string) error
}

type ProspectRepository struct {
	DB *sql.DB
}

const prospectColumns = `
    id, campaign_id, first_name, last_name, company, job_title, location,
    profile_url, email, provider_user_id, status, step_index, personalization,
    last_contacted_at, connection_accepted_at, version, created_at, updated_at`

func scanProspect(row interface{ Scan(...interface{}) error }) (*model.Prospect, error) {
	var p model.Prospect
	var personalization []byte
	err := row.Scan(
		&p.ID, &p.CampaignID, &p.FirstName, &p.LastName, &p.Company, &p.JobTitle, &p.Location,
		&p.ProfileURL, &p.Email, &p.ProviderUserID, &p.Status, &p.StepIndex, &personalization,
		&p.LastContactedAt, &p.ConnectionAcceptedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(personalization) > 0 {
		if err := json.Unmarshal(personalization, &p.Personalization); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (r *ProspectRepository) Create(ctx context.Context, p *model.Prospect) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = model.ProspectPending
	}
	p.CreatedAt = time.Now().UTC()

	personalization, err := json.Marshal(p.Personalization)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO prospects
            (id, campaign_id, first_name, last_name, company, job_title, location,
             profile_url, email, provider_user_id, status, step_index, personalization,
             version, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14)
    `
	_, err = r.DB.ExecContext(ctx, query,
		p.ID, p.CampaignID, p.FirstName, p.LastName, p.Company, p.JobTitle, p.Location,
		p.ProfileURL, p.Email, p.ProviderUserID, p.Status, p.StepIndex, personalization,
		p.CreatedAt)
	if err == nil {
		p.Version = 1
	}
	return err
}

func (r *ProspectRepository) GetByID(ctx context.Context, id string) (*model.Prospect, error) {
	query := `SELECT` + prospectColumns + ` FROM prospects WHERE id=$1`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewProspectNotFound(id)
	}
	return p, err
}

func (r *ProspectRepository) GetByProviderUserID(ctx context.Context, providerUserID string) (*model.Prospect, error) {
	query := `SELECT` + prospectColumns + ` FROM prospects WHERE provider_user_id=$1 ORDER BY created_at DESC LIMIT 1`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, providerUserID))
	if err == sql.ErrNoRows {
		return nil, nil // not found is not an error for reconciliation
	}
	return p, err
}

func (r *ProspectRepository) GetByProfileURL(ctx context.Context, profileURL string) (*model.Prospect, error) {
	query := `SELECT` + prospectColumns + ` FROM prospects WHERE profile_url=$1 ORDER BY created_at DESC LIMIT 1`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, profileURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *ProspectRepository) ListByCampaign(ctx context.Context, campaignID string, status string, offset, limit int) ([]*model.Prospect, error) {
	query := `SELECT` + prospectColumns + ` FROM prospects WHERE campaign_id=$1`
	args := []interface{}{campaignID}
	if status != "" {
		query += ` AND status=$2 ORDER BY created_at LIMIT $3 OFFSET $4`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY created_at LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prospects := []*model.Prospect{}
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

// ====================== Conditional transitions ======================

func (r *ProspectRepository) UpdateStatusIf(ctx context.Context, id string, from, to model.ProspectStatus) error {
	query := `
        UPDATE prospects
        SET status=$1, version=version+1, updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrConcurrencyConflict
	}
	return nil
}

func (r *ProspectRepository) MarkQueued(ctx context.Context, id string, from model.ProspectStatus, step int, queuedAt time.Time) error {
	query := `
        UPDATE prospects
        SET status=$1, step_index=$2,
            personalization = personalization || jsonb_build_object('queued_at', $3::timestamptz),
            version=version+1, updated_at=NOW()
        WHERE id=$4 AND status=$5
    `
	res, err := r.DB.ExecContext(ctx, query, model.ProspectQueued, step, queuedAt, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrConcurrencyConflict
	}
	return nil
}

func (r *ProspectRepository) RecordDispatch(ctx context.Context, id string, step int, providerUserID string, at time.Time, to model.ProspectStatus, nextStep int) error {
	query := `
        UPDATE prospects
        SET status=$1, step_index=$2,
            provider_user_id = COALESCE(NULLIF($3, ''), provider_user_id),
            last_contacted_at=$4,
            personalization = personalization
                || jsonb_build_object('provider_id', COALESCE(NULLIF($3, ''), provider_user_id))
                || jsonb_build_object('error', NULL),
            version=version+1, updated_at=NOW()
        WHERE id=$5 AND status=$6 AND step_index=$7
    `
	res, err := r.DB.ExecContext(ctx, query, to, nextStep, providerUserID, at, id, model.ProspectQueued, step)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrConcurrencyConflict
	}
	return nil
}

func (r *ProspectRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
        UPDATE prospects
        SET status=$1,
            personalization = personalization || jsonb_build_object('error', $2::text),
            version=version+1, updated_at=NOW()
        WHERE id=$3 AND status NOT IN ('replied', 'failed', 'cancelled')
    `
	res, err := r.DB.ExecContext(ctx, query, model.ProspectFailed, reason, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrConcurrencyConflict
	}
	return nil
}

func (r *ProspectRepository) MarkConnected(ctx context.Context, id string, at time.Time) (bool, error) {
	// connection_accepted_at IS NULL keeps a webhook retry or a polling cron
	// from double-processing the same acceptance.
	query := `
        UPDATE prospects
        SET status=$1, connection_accepted_at=$2, version=version+1, updated_at=NOW()
        WHERE id=$3 AND status=$4 AND connection_accepted_at IS NULL
    `
	res, err := r.DB.ExecContext(ctx, query, model.ProspectConnected, at, id, model.ProspectDispatched)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *ProspectRepository) MarkReplied(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE prospects
        SET status=$1, version=version+1, updated_at=NOW()
        WHERE id=$2 AND status IN ('dispatched', 'connected', 'queued')
    `
	res, err := r.DB.ExecContext(ctx, query, model.ProspectReplied, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *ProspectRepository) SetProviderUserID(ctx context.Context, id, providerUserID string) error {
	query := `
        UPDATE prospects SET provider_user_id=$1, updated_at=NOW()
        WHERE id=$2 AND provider_user_id=''
    `
	_, err := r.DB.ExecContext(ctx, query, providerUserID, id)
	return err
}

func (r *ProspectRepository) CancelPipeline(ctx context.Context, campaignID string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE prospects
        SET status=$1, version=version+1, updated_at=NOW()
        WHERE campaign_id=$2 AND status IN ('pending', 'approved', 'queued')
    `, model.ProspectCancelled, campaignID)
	if err != nil {
		return 0, err
	}
	cancelled, _ := res.RowsAffected()

	// Un-claimed entries disappear; a claimed entry in flight is voided by
	// the executor's status re-check instead, so history is never discarded.
	_, err = tx.ExecContext(ctx, `
        DELETE FROM dispatch_queue
        WHERE status='pending' AND prospect_id IN
            (SELECT id FROM prospects WHERE campaign_id=$1 AND status='cancelled')
    `, campaignID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(cancelled), nil
}

func (r *ProspectRepository) ResetFailed(ctx context.Context, id string) error {
	query := `
        UPDATE prospects
        SET status=$1,
            personalization = personalization || jsonb_build_object('error', NULL),
            version=version+1, updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.ExecContext(ctx, query, model.ProspectPending, id, model.ProspectFailed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrConcurrencyConflict
	}
	return nil
}

var _ ProspectRepositoryInterface = (*ProspectRepository)(nil)
