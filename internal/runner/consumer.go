// internal/runner/consumer.go
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// CompletionPayload is the per-prospect outcome the workflow runner reports
// back once its execution finishes.
type CompletionPayload struct {
	ExecutionID    string `json:"execution_id"`
	ProspectID     string `json:"prospect_id"`
	EntryID        string `json:"entry_id"`
	StepIndex      int    `json:"step_index"`
	Status         string `json:"status"` // "sent" or "failed"
	ProviderUserID string `json:"provider_user_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CompletionConsumer drains the result queue and applies each outcome to the
// prospect lifecycle and its queue entry.
type CompletionConsumer struct {
	Ch        *amqp.Channel
	Machine   *lifecycle.Machine
	Prospects repository.ProspectRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Queue     repository.QueueRepositoryInterface
	Log       *zap.Logger
}

// Start blocks until ctx is cancelled or the delivery channel closes.
func (c *CompletionConsumer) Start(ctx context.Context) error {
	msgs, err := c.Ch.Consume(
		ResultQueueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	c.Log.Info("completion consumer started", zap.String("queue", ResultQueueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *CompletionConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var payload CompletionPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.Log.Error("malformed completion payload", zap.Error(err))
		d.Nack(false, false)
		return
	}

	if err := c.apply(ctx, payload); err != nil {
		c.Log.Error("failed to apply completion",
			zap.String("prospect_id", payload.ProspectID),
			zap.String("execution_id", payload.ExecutionID),
			zap.Error(err),
		)
		// Requeue once via the broker; poison messages end up nacked
		// without requeue on redelivery.
		d.Nack(false, !d.Redelivered)
		return
	}

	d.Ack(false)
}

func (c *CompletionConsumer) apply(ctx context.Context, payload CompletionPayload) error {
	if payload.Status != "sent" {
		reason := payload.Error
		if reason == "" {
			reason = "runner reported failure"
		}
		if err := c.Queue.MarkFailed(ctx, payload.EntryID, reason); err != nil {
			return err
		}
		metrics.DispatchFailures.Inc()
		return c.Machine.FailDispatch(ctx, payload.ProspectID, reason)
	}

	prospect, err := c.Prospects.GetByID(ctx, payload.ProspectID)
	if err != nil {
		return err
	}
	campaign, err := c.Campaigns.GetByID(ctx, prospect.CampaignID)
	if err != nil {
		return err
	}

	err = c.Machine.CompleteDispatch(ctx, prospect, campaign, payload.StepIndex, payload.ProviderUserID, time.Now().UTC())
	if err != nil {
		// A concurrent reconciliation or cancel already settled this
		// prospect; the runner's report is stale, not wrong.
		if errors.Is(err, appErrors.ErrConcurrencyConflict) {
			c.Log.Debug("stale completion ignored",
				zap.String("prospect_id", payload.ProspectID),
				zap.Int("step_index", payload.StepIndex),
			)
			return c.Queue.MarkDispatched(ctx, payload.EntryID)
		}
		return err
	}

	metrics.DispatchesSent.Inc()
	return c.Queue.MarkDispatched(ctx, payload.EntryID)
}
