// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

type CampaignController struct {
	Campaigns repository.CampaignRepositoryInterface
	Machine   *lifecycle.Machine
	Log       *zap.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name               string   `json:"name"`
		WorkspaceID        string   `json:"workspace_id"`
		MessageTemplates   []string `json:"message_templates"`
		CadenceLabels      []string `json:"cadence_labels"`
		ProviderAccountRef string   `json:"provider_account_ref"`
		DailySendLimit     int      `json:"daily_send_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		Name:               body.Name,
		WorkspaceID:        body.WorkspaceID,
		Status:             model.CampaignDraft,
		MessageTemplates:   body.MessageTemplates,
		CadenceLabels:      body.CadenceLabels,
		ProviderAccountRef: body.ProviderAccountRef,
		DailySendLimit:     body.DailySendLimit,
		CreatedAt:          time.Now().UTC(),
	}
	if err := c.Campaigns.Create(r.Context(), campaign); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, total, err := c.Campaigns.List(r.Context(), (page-1)*pageSize, pageSize, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": campaigns,
		"pagination": map[string]int{
			"total_count": total,
			"total_pages": totalPages,
			"page":        page,
			"page_size":   pageSize,
		},
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := c.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	stats, err := c.Campaigns.GetStats(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign": campaign,
		"stats":    stats,
	})
}

// ActivateCampaign transitions a draft campaign into active and schedules
// every approved prospect's first step.
func (c *CampaignController) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := c.Machine.ActivateCampaign(r.Context(), id); err != nil {
		var verr *appErrors.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeCampaignError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(model.CampaignActive)})
}

// CancelCampaign stops the pipeline: non-terminal prospects that have not
// been contacted yet move to cancelled, dispatched ones keep their state.
func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := c.Machine.CancelCampaign(r.Context(), id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	c.Log.Info("campaign cancelled", zap.String("campaign_id", id), zap.Int("prospects_cancelled", cancelled))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":              string(model.CampaignCancelled),
		"prospects_cancelled": cancelled,
	})
}

func writeCampaignError(w http.ResponseWriter, err error) {
	var nf *appErrors.ErrCampaignNotFound
	if errors.As(err, &nf) {
		http.Error(w, nf.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
