// internal/controller/prospect_controller.go
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

type ProspectController struct {
	Prospects repository.ProspectRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Machine   *lifecycle.Machine
	Log       *zap.Logger
}

type importRow struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Company    string `json:"company"`
	JobTitle   string `json:"job_title"`
	Location   string `json:"location"`
	ProfileURL string `json:"profile_url"`
	Email      string `json:"email"`
	Status     string `json:"status"`
}

// ImportProspects bulk-loads prospects into a campaign. Legacy status names
// from older exports are normalized; rows with an unrecognized status are
// rejected individually without failing the batch.
func (c *ProspectController) ImportProspects(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	if _, err := c.Campaigns.GetByID(r.Context(), campaignID); err != nil {
		writeCampaignError(w, err)
		return
	}

	var body struct {
		Prospects []importRow `json:"prospects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(body.Prospects) == 0 {
		http.Error(w, "prospects list is empty", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	imported := 0
	rejected := make([]map[string]interface{}, 0)

	for i, row := range body.Prospects {
		status := model.ProspectPending
		if row.Status != "" {
			normalized, ok := model.NormalizeStatus(row.Status)
			if !ok {
				rejected = append(rejected, map[string]interface{}{
					"index":  i,
					"reason": "unrecognized status: " + row.Status,
				})
				continue
			}
			status = normalized
		}

		prospect := &model.Prospect{
			CampaignID: campaignID,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Company:    row.Company,
			JobTitle:   row.JobTitle,
			Location:   row.Location,
			ProfileURL: row.ProfileURL,
			Email:      row.Email,
			Status:     status,
			Personalization: model.Personalization{
				Source:     "import",
				UploadedAt: &now,
			},
			CreatedAt: now,
		}
		if err := c.Prospects.Create(r.Context(), prospect); err != nil {
			rejected = append(rejected, map[string]interface{}{
				"index":  i,
				"reason": err.Error(),
			})
			continue
		}
		imported++
	}

	c.Log.Info("prospects imported",
		zap.String("campaign_id", campaignID),
		zap.Int("imported", imported),
		zap.Int("rejected", len(rejected)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"imported": imported,
		"rejected": rejected,
	})
}

func (c *ProspectController) ListProspects(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	prospects, err := c.Prospects.ListByCampaign(r.Context(), campaignID, status, (page-1)*pageSize, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":      prospects,
		"page":      page,
		"page_size": pageSize,
	})
}

func (c *ProspectController) GetProspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prospectID")

	prospect, err := c.Prospects.GetByID(r.Context(), id)
	if err != nil {
		writeProspectError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prospect)
}

// ApproveProspect moves a pending prospect to approved; if the campaign is
// already active its first step is scheduled immediately.
func (c *ProspectController) ApproveProspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prospectID")

	if err := c.Machine.Approve(r.Context(), id); err != nil {
		if errors.Is(err, appErrors.ErrConcurrencyConflict) {
			http.Error(w, "prospect is not pending", http.StatusConflict)
			return
		}
		writeProspectError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(model.ProspectApproved)})
}

// ResetProspect is the operator escape hatch for failed prospects: back to
// pending with the failure reason cleared.
func (c *ProspectController) ResetProspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prospectID")

	if err := c.Machine.ResetFailed(r.Context(), id); err != nil {
		if errors.Is(err, appErrors.ErrConcurrencyConflict) {
			http.Error(w, "prospect is not failed", http.StatusConflict)
			return
		}
		writeProspectError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(model.ProspectPending)})
}

func writeProspectError(w http.ResponseWriter, err error) {
	var nf *appErrors.ErrProspectNotFound
	if errors.As(err, &nf) {
		http.Error(w, nf.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
