// internal/repository/campaign_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error
	List(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// GetStats returns prospect counts per lifecycle status for a campaign.
	GetStats(ctx context.Context, campaignID string) (map[string]int, error)

	// CountProspectsInStatus supports the activation precondition.
	CountProspectsInStatus(ctx context.Context, campaignID string, statuses ...model.ProspectStatus) (int, error)

	// CountDispatchedToday supports the per-campaign daily send limit.
	CountDispatchedToday(ctx context.Context, campaignID string) (int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now().UTC()

	templates, err := json.Marshal(c.MessageTemplates)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(c.CadenceLabels)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO campaigns
            (id, workspace_id, name, status, message_templates, cadence_labels,
             provider_account_ref, daily_send_limit, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err = r.DB.ExecContext(ctx, query,
		c.ID, c.WorkspaceID, c.Name, c.Status, templates, labels,
		c.ProviderAccountRef, c.DailySendLimit, c.ScheduledAt, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
        SELECT id, workspace_id, name, status, message_templates, cadence_labels,
               provider_account_ref, daily_send_limit, scheduled_at, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	var templates, labels []byte
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &templates, &labels,
		&c.ProviderAccountRef, &c.DailySendLimit, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	if err := json.Unmarshal(templates, &c.MessageTemplates); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(labels, &c.CadenceLabels); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	res, err := r.DB.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) List(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `
        SELECT id, workspace_id, name, status, message_templates, cadence_labels,
               provider_account_ref, daily_send_limit, scheduled_at, created_at, updated_at
        FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		var templates, labels []byte
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &templates, &labels,
			&c.ProviderAccountRef, &c.DailySendLimit, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(templates, &c.MessageTemplates); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(labels, &c.CadenceLabels); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ====================== Prospect aggregates ======================

func (r *CampaignRepository) GetStats(ctx context.Context, campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM prospects WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"total":      0,
		"pending":    0,
		"approved":   0,
		"queued":     0,
		"dispatched": 0,
		"connected":  0,
		"replied":    0,
		"failed":     0,
		"cancelled":  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		if _, ok := stats[status]; ok {
			stats[status] = count
		}
		stats["total"] += count
	}
	return stats, rows.Err()
}

func (r *CampaignRepository) CountProspectsInStatus(ctx context.Context, campaignID string, statuses ...model.ProspectStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(*) FROM prospects WHERE campaign_id=$1 AND status = ANY($2)`
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}
	var count int
	err := r.DB.QueryRowContext(ctx, query, campaignID, pq.Array(raw)).Scan(&count)
	return count, err
}

func (r *CampaignRepository) CountDispatchedToday(ctx context.Context, campaignID string) (int, error) {
	query := `
        SELECT COUNT(*) FROM prospects
        WHERE campaign_id=$1 AND last_contacted_at >= date_trunc('day', NOW())
    `
	var count int
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&count)
	return count, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
