// internal/lifecycle/lifecycle.go
package lifecycle

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/cadence"
	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/render"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// FailureReasonNoContactIdentity is persisted when a prospect has neither a
// profile reference nor an email the provider could resolve.
const FailureReasonNoContactIdentity = "no_contact_identity"

// transitions is the authoritative per-prospect status graph. failed is
// listed with pending as its only exit because re-entry happens solely
// through an explicit administrative reset.
var transitions = map[model.ProspectStatus][]model.ProspectStatus{
	model.ProspectPending:    {model.ProspectApproved, model.ProspectFailed, model.ProspectCancelled},
	model.ProspectApproved:   {model.ProspectQueued, model.ProspectFailed, model.ProspectCancelled},
	model.ProspectQueued:     {model.ProspectDispatched, model.ProspectConnected, model.ProspectReplied, model.ProspectFailed, model.ProspectCancelled},
	model.ProspectDispatched: {model.ProspectConnected, model.ProspectReplied, model.ProspectFailed, model.ProspectCancelled},
	model.ProspectConnected:  {model.ProspectQueued, model.ProspectReplied, model.ProspectFailed, model.ProspectCancelled},
	model.ProspectReplied:    {},
	model.ProspectFailed:     {model.ProspectPending},
	model.ProspectCancelled:  {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to model.ProspectStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine is the sole writer of Prospect.status and Prospect.step_index.
type Machine struct {
	Prospects repository.ProspectRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Queue     repository.QueueRepositoryInterface
	Cadence   *cadence.Resolver
	Log       *zap.Logger
	Rand      *rand.Rand
	Now       func() time.Time
}

func NewMachine(
	prospects repository.ProspectRepositoryInterface,
	campaigns repository.CampaignRepositoryInterface,
	queue repository.QueueRepositoryInterface,
	resolver *cadence.Resolver,
	log *zap.Logger,
) *Machine {
	return &Machine{
		Prospects: prospects,
		Campaigns: campaigns,
		Queue:     queue,
		Cadence:   resolver,
		Log:       log,
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:       time.Now,
	}
}

// Approve records the external approval signal for a pending prospect. When
// the owning campaign is already active the first step is scheduled right
// away; otherwise scheduling waits for activation.
func (m *Machine) Approve(ctx context.Context, prospectID string) error {
	if err := m.Prospects.UpdateStatusIf(ctx, prospectID, model.ProspectPending, model.ProspectApproved); err != nil {
		return err
	}

	prospect, err := m.Prospects.GetByID(ctx, prospectID)
	if err != nil {
		return err
	}
	campaign, err := m.Campaigns.GetByID(ctx, prospect.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignActive {
		return nil
	}
	return m.ScheduleStep(ctx, prospect, campaign, m.Now())
}

// ActivateCampaign enforces the activation precondition (at least one
// non-empty template, at least one prospect still able to enter the
// pipeline), flips the campaign to active and schedules step 0 for every
// already-approved prospect.
func (m *Machine) ActivateCampaign(ctx context.Context, campaignID string) error {
	campaign, err := m.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignDraft && campaign.Status != model.CampaignScheduled && campaign.Status != model.CampaignPaused {
		return appErrors.NewValidation("campaign cannot be activated from status " + string(campaign.Status))
	}

	hasTemplate := false
	for _, t := range campaign.MessageTemplates {
		if render.Render(t, nil).Length > 0 {
			hasTemplate = true
			break
		}
	}
	if !hasTemplate {
		return appErrors.NewValidation("campaign has no non-empty message template")
	}

	eligible, err := m.Campaigns.CountProspectsInStatus(ctx, campaignID,
		model.ProspectPending, model.ProspectApproved)
	if err != nil {
		return err
	}
	if eligible == 0 {
		return appErrors.NewValidation("campaign has no eligible prospects")
	}

	if err := m.Campaigns.UpdateStatus(ctx, campaignID, model.CampaignActive); err != nil {
		return err
	}
	campaign.Status = model.CampaignActive

	approved, err := m.Prospects.ListByCampaign(ctx, campaignID, string(model.ProspectApproved), 0, 10000)
	if err != nil {
		return err
	}
	now := m.Now()
	for _, p := range approved {
		if err := m.ScheduleStep(ctx, p, campaign, now); err != nil {
			m.Log.Warn("failed to schedule prospect on activation",
				zap.String("campaign_id", campaignID),
				zap.String("prospect_id", p.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ScheduleStep moves an eligible prospect into queued for its next step and
// creates the single outstanding queue entry for that (prospect, step) pair.
// anchor is the timestamp of the most recently completed step (approval time
// for step 0, acceptance or previous-dispatch time for follow-ups).
func (m *Machine) ScheduleStep(ctx context.Context, p *model.Prospect, c *model.Campaign, anchor time.Time) error {
	if c.Status != model.CampaignActive {
		return appErrors.NewValidation("campaign " + c.ID + " is not active")
	}

	step := p.StepIndex
	if !c.HasStep(step) {
		return appErrors.NewValidation("campaign sequence defines no step " + strconv.Itoa(step))
	}

	from := model.ProspectApproved
	if step > 0 {
		from = model.ProspectConnected
	}
	if p.Status != from {
		return appErrors.ErrConcurrencyConflict
	}

	// A prospect the provider cannot resolve fails closed, never silently
	// skipped.
	if !p.HasContactIdentity() {
		if err := m.Prospects.MarkFailed(ctx, p.ID, FailureReasonNoContactIdentity); err != nil {
			return err
		}
		m.Log.Warn("prospect failed closed: no contact identity",
			zap.String("prospect_id", p.ID),
			zap.String("campaign_id", c.ID),
		)
		return nil
	}

	// The message must render within the provider limit before anything is
	// queued; a broken template is a terminal failure needing human repair.
	if _, err := render.RenderLimited(c.TemplateFor(step), p.TemplateFields(), render.MaxLenFor(step)); err != nil {
		if ferr := m.Prospects.MarkFailed(ctx, p.ID, err.Error()); ferr != nil {
			return ferr
		}
		m.Log.Warn("prospect failed closed: template did not validate",
			zap.String("prospect_id", p.ID),
			zap.Int("step", step),
			zap.Error(err),
		)
		return nil
	}

	due := anchor
	if label := c.CadenceFor(step); label != "" {
		window, known := m.Cadence.Resolve(label)
		if !known {
			m.Log.Warn("unrecognized cadence label, using default window",
				zap.String("label", label),
				zap.String("campaign_id", c.ID),
			)
		}
		due = cadence.ScheduleAt(anchor, window, m.Rand)
	}

	if err := m.Prospects.MarkQueued(ctx, p.ID, from, step, m.Now()); err != nil {
		return err
	}
	if _, err := m.Queue.Enqueue(ctx, p.ID, step, due); err != nil {
		return err
	}

	m.Log.Info("prospect queued",
		zap.String("prospect_id", p.ID),
		zap.String("campaign_id", c.ID),
		zap.Int("step", step),
		zap.Time("scheduled_for", due),
	)
	return nil
}

// CompleteDispatch is called by the Dispatch Executor after a confirmed
// provider accept. Step 0 lands in dispatched (connection requested);
// follow-ups return the prospect to connected, and when the sequence
// continues the next entry is enqueued anchored at the dispatch time.
func (m *Machine) CompleteDispatch(ctx context.Context, p *model.Prospect, c *model.Campaign, step int, providerUserID string, at time.Time) error {
	to := model.ProspectDispatched
	if step > 0 {
		to = model.ProspectConnected
	}

	if err := m.Prospects.RecordDispatch(ctx, p.ID, step, providerUserID, at, to, step+1); err != nil {
		return err
	}

	if to == model.ProspectConnected && c.HasStep(step+1) {
		next := *p
		next.Status = model.ProspectConnected
		next.StepIndex = step + 1
		if err := m.ScheduleStep(ctx, &next, c, at); err != nil {
			return err
		}
	}
	return nil
}

// FailDispatch records a terminal dispatch failure with its reason.
func (m *Machine) FailDispatch(ctx context.Context, prospectID, reason string) error {
	return m.Prospects.MarkFailed(ctx, prospectID, reason)
}

// AcceptConnection handles a provider-confirmed acceptance. Idempotent: a
// repeat event for an already-connected prospect is a no-op. On first
// acceptance the first follow-up is scheduled, anchored at the acceptance.
func (m *Machine) AcceptConnection(ctx context.Context, p *model.Prospect, at time.Time) (bool, error) {
	moved, err := m.Prospects.MarkConnected(ctx, p.ID, at)
	if err != nil || !moved {
		return false, err
	}

	campaign, err := m.Campaigns.GetByID(ctx, p.CampaignID)
	if err != nil {
		return true, err
	}
	if !campaign.HasStep(p.StepIndex) || campaign.Status != model.CampaignActive {
		return true, nil
	}

	next := *p
	next.Status = model.ProspectConnected
	next.ConnectionAcceptedAt = &at
	if err := m.ScheduleStep(ctx, &next, campaign, at); err != nil {
		return true, err
	}
	return true, nil
}

// RecordReply marks a prospect replied and clears any outstanding scheduled
// sends; replied prospects are never re-queued.
func (m *Machine) RecordReply(ctx context.Context, prospectID string) (bool, error) {
	moved, err := m.Prospects.MarkReplied(ctx, prospectID)
	if err != nil {
		return false, err
	}
	if moved {
		if err := m.Queue.DeletePending(ctx, prospectID); err != nil {
			return true, err
		}
	}
	return moved, nil
}

// CancelCampaign is the administrative bulk stop: every prospect still in
// pending/approved/queued is cancelled atomically, their unclaimed entries
// removed. Prospects whose outreach already happened are untouched.
func (m *Machine) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	if err := m.Campaigns.UpdateStatus(ctx, campaignID, model.CampaignCancelled); err != nil {
		return 0, err
	}
	cancelled, err := m.Prospects.CancelPipeline(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	m.Log.Info("campaign cancelled",
		zap.String("campaign_id", campaignID),
		zap.Int("prospects_cancelled", cancelled),
	)
	return cancelled, nil
}

// ResetFailed re-enters a failed prospect at pending. Explicit admin action
// only; failures usually stem from enrichment gaps fixed out of band.
func (m *Machine) ResetFailed(ctx context.Context, prospectID string) error {
	return m.Prospects.ResetFailed(ctx, prospectID)
}
