// internal/dispatch/executor.go
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/gateway"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/render"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// Outcome classifies what ExecuteOne did with an entry.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeSkipped  Outcome = "skipped"  // idempotent no-op or cancelled race
	OutcomeDeferred Outcome = "deferred" // daily limit reached, rescheduled
	OutcomeFailed   Outcome = "failed"   // terminal failure recorded
)

type DispatchResult struct {
	Outcome    Outcome
	ProviderID string
	Reason     string
}

// EmailFallback delivers a step over SMTP when the prospect has only an
// email identity.
type EmailFallback interface {
	Send(to, subject, body string) error
}

// Executor pulls claimed queue entries, calls the external gateway and feeds
// the outcome back into the state machine. Side effects are idempotent per
// (prospect_id, step_index): duplicate outreach is the one failure mode this
// component exists to prevent.
type Executor struct {
	Prospects   repository.ProspectRepositoryInterface
	Campaigns   repository.CampaignRepositoryInterface
	Queue       repository.QueueRepositoryInterface
	Machine     *lifecycle.Machine
	Gateway     gateway.Gateway
	Email       EmailFallback
	Log         *zap.Logger
	MaxAttempts uint64
	Now         func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) ExecuteOne(ctx context.Context, entry *model.QueueEntry) (DispatchResult, error) {
	// Idempotence pre-check on the entry itself.
	if entry.Status == model.EntryDispatched || entry.Status == model.EntryFailed {
		return DispatchResult{Outcome: OutcomeSkipped, Reason: "entry already settled"}, nil
	}

	prospect, err := e.Prospects.GetByID(ctx, entry.ProspectID)
	if err != nil {
		return DispatchResult{}, err
	}

	// Re-validate eligibility: the prospect may have been cancelled (or
	// advanced by another worker) between enqueue and claim.
	if prospect.Status != model.ProspectQueued || prospect.StepIndex != entry.StepIndex {
		if prospect.StepIndex > entry.StepIndex && prospect.LastContactedAt != nil {
			// This step already went out; settle the entry without a resend.
			if err := e.Queue.MarkDispatched(ctx, entry.ID); err != nil {
				return DispatchResult{}, err
			}
			metrics.EntriesSkipped.Inc()
			return DispatchResult{Outcome: OutcomeSkipped, Reason: "step already dispatched"}, nil
		}
		if err := e.Queue.MarkFailed(ctx, entry.ID, "prospect no longer queued: "+string(prospect.Status)); err != nil {
			return DispatchResult{}, err
		}
		metrics.EntriesSkipped.Inc()
		return DispatchResult{Outcome: OutcomeSkipped, Reason: "prospect in status " + string(prospect.Status)}, nil
	}

	campaign, err := e.Campaigns.GetByID(ctx, prospect.CampaignID)
	if err != nil {
		return DispatchResult{}, err
	}

	// Per-campaign daily send limit: push the entry to tomorrow instead of
	// burning the provider quota.
	if campaign.DailySendLimit > 0 {
		sentToday, err := e.Campaigns.CountDispatchedToday(ctx, campaign.ID)
		if err != nil {
			return DispatchResult{}, err
		}
		if sentToday >= campaign.DailySendLimit {
			tomorrow := e.now().Add(24 * time.Hour)
			if err := e.Queue.Defer(ctx, entry.ID, tomorrow); err != nil {
				return DispatchResult{}, err
			}
			e.Log.Info("daily send limit reached, entry deferred",
				zap.String("campaign_id", campaign.ID),
				zap.String("entry_id", entry.ID),
			)
			return DispatchResult{Outcome: OutcomeDeferred, Reason: "daily send limit reached"}, nil
		}
	}

	rendered, err := render.RenderLimited(campaign.TemplateFor(entry.StepIndex), prospect.TemplateFields(), render.MaxLenFor(entry.StepIndex))
	if err != nil {
		return e.fail(ctx, entry, prospect, err)
	}
	if len(rendered.Unresolved) > 0 {
		e.Log.Warn("message rendered with unresolved placeholders",
			zap.String("prospect_id", prospect.ID),
			zap.Strings("placeholders", rendered.Unresolved),
		)
	}

	providerID, err := e.send(ctx, campaign, prospect, entry.StepIndex, rendered.Text)
	if err != nil {
		return e.fail(ctx, entry, prospect, err)
	}

	sentAt := e.now()
	if err := e.Machine.CompleteDispatch(ctx, prospect, campaign, entry.StepIndex, providerID, sentAt); err != nil {
		if errors.Is(err, appErrors.ErrConcurrencyConflict) {
			// The prospect moved on while the send was in flight. The send
			// itself still happened, so settle the entry instead of leaving
			// it claimed for the stale requeuer to re-execute.
			if markErr := e.Queue.MarkDispatched(ctx, entry.ID); markErr != nil {
				return DispatchResult{}, markErr
			}
			metrics.EntriesSkipped.Inc()
			return DispatchResult{Outcome: OutcomeSkipped, Reason: "claim lost"}, nil
		}
		return DispatchResult{}, err
	}
	if err := e.Queue.MarkDispatched(ctx, entry.ID); err != nil {
		return DispatchResult{}, err
	}

	metrics.DispatchesSent.Inc()
	e.Log.Info("message dispatched",
		zap.String("prospect_id", prospect.ID),
		zap.String("campaign_id", campaign.ID),
		zap.Int("step", entry.StepIndex),
	)
	return DispatchResult{Outcome: OutcomeSent, ProviderID: providerID}, nil
}

// send picks the channel for the step and retries transient provider errors
// with exponential backoff up to MaxAttempts. Permanent errors abort the
// retry loop immediately.
func (e *Executor) send(ctx context.Context, c *model.Campaign, p *model.Prospect, step int, text string) (string, error) {
	useEmail := p.ProfileURL == "" && p.Email != "" && e.Email != nil

	var providerID string
	operation := func() error {
		var err error
		switch {
		case useEmail:
			err = e.Email.Send(p.Email, c.Name, text)
		case step == 0:
			providerID, err = e.Gateway.SendConnectionRequest(ctx, c.ProviderAccountRef, p.ProfileURL, text)
		default:
			providerID = p.ProviderUserID
			err = e.Gateway.SendFollowUp(ctx, c.ProviderAccountRef, p.ProviderUserID, text)
		}
		if err != nil && !appErrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	attempts := e.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
	if err != nil {
		return "", err
	}
	return providerID, nil
}

// fail records a terminal failure on both the entry and the prospect,
// preserving the provider's error payload verbatim.
func (e *Executor) fail(ctx context.Context, entry *model.QueueEntry, p *model.Prospect, cause error) (DispatchResult, error) {
	reason := cause.Error()
	if err := e.Queue.MarkFailed(ctx, entry.ID, reason); err != nil {
		return DispatchResult{}, err
	}
	if err := e.Machine.FailDispatch(ctx, p.ID, reason); err != nil && !errors.Is(err, appErrors.ErrConcurrencyConflict) {
		return DispatchResult{}, err
	}

	metrics.DispatchFailures.Inc()
	e.Log.Error("dispatch failed",
		zap.String("prospect_id", p.ID),
		zap.Int("step", entry.StepIndex),
		zap.String("reason", reason),
	)
	return DispatchResult{Outcome: OutcomeFailed, Reason: reason}, nil
}
