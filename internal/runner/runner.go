// internal/runner/runner.go
package runner

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/render"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

const (
	DispatchQueueName = "campaign_dispatch"
	ResultQueueName   = "campaign_dispatch_results"
)

// TriggerPayload is the job handed to the external workflow runner: one
// campaign batch with pre-rendered messages so the runner only performs the
// provider calls.
type TriggerPayload struct {
	ExecutionID   string          `json:"execution_id"`
	CampaignID    string          `json:"campaign_id"`
	AccountRef    string          `json:"account_ref"`
	ProspectBatch []BatchProspect `json:"prospect_batch"`
}

type BatchProspect struct {
	ProspectID     string `json:"prospect_id"`
	EntryID        string `json:"entry_id"`
	StepIndex      int    `json:"step_index"`
	Identity       string `json:"identity,omitempty"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
	Message        string `json:"message"`
}

// Setup declares the durable queues for both directions.
func Setup(ch *amqp.Channel) error {
	for _, name := range []string{DispatchQueueName, ResultQueueName} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Trigger publishes campaign batches to the workflow runner. Publishing is
// explicitly NOT completion: entries move to triggered, a pending sub-state
// of the prospect's queued status, until the runner reports per-prospect
// outcomes on the result queue.
type Trigger struct {
	Ch        *amqp.Channel
	Prospects repository.ProspectRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Queue     repository.QueueRepositoryInterface
	Log       *zap.Logger
}

// TriggerBatch groups claimed entries by campaign, renders their messages and
// hands each group to the runner. Entries whose prospect is no longer queued
// are settled here, exactly like the direct executor would.
func (t *Trigger) TriggerBatch(ctx context.Context, entries []model.QueueEntry) (string, error) {
	batches := map[string]*TriggerPayload{}
	executionID := uuid.NewString()
	triggered := map[string][]string{} // campaign -> entry ids

	for i := range entries {
		entry := &entries[i]

		prospect, err := t.Prospects.GetByID(ctx, entry.ProspectID)
		if err != nil {
			return "", err
		}
		if prospect.Status != model.ProspectQueued || prospect.StepIndex != entry.StepIndex {
			if err := t.Queue.MarkFailed(ctx, entry.ID, "prospect no longer queued: "+string(prospect.Status)); err != nil {
				return "", err
			}
			continue
		}

		campaign, err := t.Campaigns.GetByID(ctx, prospect.CampaignID)
		if err != nil {
			return "", err
		}

		rendered, err := render.RenderLimited(campaign.TemplateFor(entry.StepIndex), prospect.TemplateFields(), render.MaxLenFor(entry.StepIndex))
		if err != nil {
			if ferr := t.Queue.MarkFailed(ctx, entry.ID, err.Error()); ferr != nil {
				return "", ferr
			}
			if ferr := t.Prospects.MarkFailed(ctx, prospect.ID, err.Error()); ferr != nil {
				t.Log.Warn("failed to persist render failure", zap.String("prospect_id", prospect.ID), zap.Error(ferr))
			}
			continue
		}

		batch, ok := batches[campaign.ID]
		if !ok {
			batch = &TriggerPayload{
				ExecutionID: executionID,
				CampaignID:  campaign.ID,
				AccountRef:  campaign.ProviderAccountRef,
			}
			batches[campaign.ID] = batch
		}
		batch.ProspectBatch = append(batch.ProspectBatch, BatchProspect{
			ProspectID:     prospect.ID,
			EntryID:        entry.ID,
			StepIndex:      entry.StepIndex,
			Identity:       prospect.ProfileURL,
			ProviderUserID: prospect.ProviderUserID,
			Message:        rendered.Text,
		})
		triggered[campaign.ID] = append(triggered[campaign.ID], entry.ID)
	}

	for campaignID, batch := range batches {
		body, err := json.Marshal(batch)
		if err != nil {
			return "", err
		}
		err = t.Ch.Publish(
			"",                // default exchange
			DispatchQueueName, // routing key
			false,             // mandatory
			false,             // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
			},
		)
		if err != nil {
			return "", err
		}
		if err := t.Queue.MarkTriggered(ctx, triggered[campaignID], executionID); err != nil {
			return "", err
		}
		t.Log.Info("batch triggered",
			zap.String("campaign_id", campaignID),
			zap.String("execution_id", executionID),
			zap.Int("prospects", len(batch.ProspectBatch)),
		)
	}

	return executionID, nil
}
