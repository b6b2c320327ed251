// Package repotest provides in-memory repository implementations for unit
// tests that exercise lifecycle and dispatch logic without a database. The
// fakes honor the same conditional-update semantics as the SQL
// implementations, including ErrConcurrencyConflict on lost writes.
package repotest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

var (
	_ repository.ProspectRepositoryInterface = (*ProspectStore)(nil)
	_ repository.CampaignRepositoryInterface = (*CampaignStore)(nil)
	_ repository.QueueRepositoryInterface    = (*QueueStore)(nil)
)

type ProspectStore struct {
	mu        sync.Mutex
	Prospects map[string]*model.Prospect

	// Queue backs the pending-entry cleanup CancelPipeline performs in the
	// SQL implementation's transaction.
	Queue *QueueStore
}

func NewProspectStore() *ProspectStore {
	return &ProspectStore{Prospects: map[string]*model.Prospect{}}
}

func (s *ProspectStore) Add(p *model.Prospect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.Prospects[p.ID] = &cp
}

// Get returns the live stored record for direct assertions.
func (s *ProspectStore) Get(id string) *model.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Prospects[id]
}

func (s *ProspectStore) Create(ctx context.Context, p *model.Prospect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = "prospect-" + strconv.Itoa(len(s.Prospects)+1)
	}
	if p.Status == "" {
		p.Status = model.ProspectPending
	}
	cp := *p
	s.Prospects[p.ID] = &cp
	return nil
}

func (s *ProspectStore) GetByID(ctx context.Context, id string) (*model.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return nil, appErrors.NewProspectNotFound(id)
	}
	cp := *p
	return &cp, nil
}

func (s *ProspectStore) GetByProviderUserID(ctx context.Context, providerUserID string) (*model.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Prospects {
		if p.ProviderUserID == providerUserID && providerUserID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *ProspectStore) GetByProfileURL(ctx context.Context, profileURL string) (*model.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profileURL == "" {
		return nil, nil
	}
	for _, p := range s.Prospects {
		if p.ProfileURL == profileURL {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *ProspectStore) ListByCampaign(ctx context.Context, campaignID string, status string, offset, limit int) ([]*model.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Prospect
	for _, p := range s.Prospects {
		if p.CampaignID != campaignID {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *ProspectStore) UpdateStatusIf(ctx context.Context, id string, from, to model.ProspectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.Status != from {
		return appErrors.ErrConcurrencyConflict
	}
	p.Status = to
	p.Version++
	return nil
}

func (s *ProspectStore) MarkQueued(ctx context.Context, id string, from model.ProspectStatus, step int, queuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.Status != from || p.StepIndex != step {
		return appErrors.ErrConcurrencyConflict
	}
	p.Status = model.ProspectQueued
	p.Personalization.QueuedAt = &queuedAt
	p.Version++
	return nil
}

func (s *ProspectStore) RecordDispatch(ctx context.Context, id string, step int, providerUserID string, at time.Time, to model.ProspectStatus, nextStep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.Status != model.ProspectQueued || p.StepIndex != step {
		return appErrors.ErrConcurrencyConflict
	}
	if providerUserID != "" && p.ProviderUserID == "" {
		p.ProviderUserID = providerUserID
	}
	t := at
	p.LastContactedAt = &t
	p.Status = to
	p.StepIndex = nextStep
	p.Personalization.ProviderID = p.ProviderUserID
	p.Version++
	return nil
}

func (s *ProspectStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.Status.Terminal() {
		return appErrors.ErrConcurrencyConflict
	}
	p.Status = model.ProspectFailed
	p.Personalization.Error = &reason
	p.Version++
	return nil
}

func (s *ProspectStore) MarkConnected(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return false, appErrors.NewProspectNotFound(id)
	}
	if p.Status != model.ProspectDispatched || p.ConnectionAcceptedAt != nil {
		return false, nil
	}
	t := at
	p.ConnectionAcceptedAt = &t
	p.Status = model.ProspectConnected
	p.Version++
	return true, nil
}

func (s *ProspectStore) MarkReplied(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return false, appErrors.NewProspectNotFound(id)
	}
	switch p.Status {
	case model.ProspectDispatched, model.ProspectConnected, model.ProspectQueued:
		p.Status = model.ProspectReplied
		p.Version++
		return true, nil
	}
	return false, nil
}

func (s *ProspectStore) SetProviderUserID(ctx context.Context, id, providerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.ProviderUserID == "" {
		p.ProviderUserID = providerUserID
	}
	return nil
}

func (s *ProspectStore) CancelPipeline(ctx context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	cancelled := 0
	var ids []string
	for _, p := range s.Prospects {
		if p.CampaignID != campaignID {
			continue
		}
		switch p.Status {
		case model.ProspectPending, model.ProspectApproved, model.ProspectQueued:
			p.Status = model.ProspectCancelled
			p.Version++
			cancelled++
			ids = append(ids, p.ID)
		}
	}
	s.mu.Unlock()
	if s.Queue != nil {
		for _, id := range ids {
			if err := s.Queue.DeletePending(ctx, id); err != nil {
				return cancelled, err
			}
		}
	}
	return cancelled, nil
}

func (s *ProspectStore) ResetFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prospects[id]
	if !ok {
		return appErrors.NewProspectNotFound(id)
	}
	if p.Status != model.ProspectFailed {
		return appErrors.ErrConcurrencyConflict
	}
	p.Status = model.ProspectPending
	p.Personalization.Error = nil
	p.Version++
	return nil
}

type CampaignStore struct {
	mu        sync.Mutex
	Campaigns map[string]*model.Campaign

	// Linked backs CountProspectsInStatus for activation precondition tests.
	Linked *ProspectStore

	// DispatchedToday feeds the daily limit check without date arithmetic.
	DispatchedToday map[string]int
}

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{
		Campaigns:       map[string]*model.Campaign{},
		DispatchedToday: map[string]int{},
	}
}

func (s *CampaignStore) Add(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.Campaigns[c.ID] = &cp
}

func (s *CampaignStore) Create(ctx context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = "campaign-" + strconv.Itoa(len(s.Campaigns)+1)
	}
	cp := *c
	s.Campaigns[c.ID] = &cp
	return nil
}

func (s *CampaignStore) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (s *CampaignStore) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (s *CampaignStore) List(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range s.Campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s *CampaignStore) GetStats(ctx context.Context, campaignID string) (map[string]int, error) {
	return map[string]int{}, nil
}

// CountProspectsInStatus requires a linked prospect store; tests that use the
// activation precondition set Linked.
func (s *CampaignStore) CountProspectsInStatus(ctx context.Context, campaignID string, statuses ...model.ProspectStatus) (int, error) {
	if s.Linked == nil {
		return 0, nil
	}
	s.Linked.mu.Lock()
	defer s.Linked.mu.Unlock()
	count := 0
	for _, p := range s.Linked.Prospects {
		if p.CampaignID != campaignID {
			continue
		}
		for _, st := range statuses {
			if p.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *CampaignStore) CountDispatchedToday(ctx context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DispatchedToday[campaignID], nil
}

type QueueStore struct {
	mu      sync.Mutex
	Entries map[string]*model.QueueEntry
	nextID  int
}

func NewQueueStore() *QueueStore {
	return &QueueStore{Entries: map[string]*model.QueueEntry{}}
}

func (s *QueueStore) Get(id string) *model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Entries[id]
}

// ForProspect returns the entry for a (prospect, step) pair, or nil.
func (s *QueueStore) ForProspect(prospectID string, step int) *model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Entries {
		if e.ProspectID == prospectID && e.StepIndex == step {
			return e
		}
	}
	return nil
}

func (s *QueueStore) Enqueue(ctx context.Context, prospectID string, stepIndex int, scheduledFor time.Time) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Entries {
		if e.ProspectID == prospectID && e.StepIndex == stepIndex {
			cp := *e
			return &cp, nil
		}
	}
	s.nextID++
	entry := &model.QueueEntry{
		ID:           "entry-" + strconv.Itoa(s.nextID),
		ProspectID:   prospectID,
		StepIndex:    stepIndex,
		ScheduledFor: scheduledFor,
		Status:       model.EntryPending,
		CreatedAt:    time.Now().UTC(),
	}
	s.Entries[entry.ID] = entry
	cp := *entry
	return &cp, nil
}

func (s *QueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.QueueEntry
	for _, e := range s.Entries {
		if e.Status == model.EntryPending && !e.ScheduledFor.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	var out []model.QueueEntry
	for _, e := range due {
		e.Status = model.EntryClaimed
		t := now
		e.ClaimedAt = &t
		e.AttemptCount++
		out = append(out, *e)
	}
	return out, nil
}

func (s *QueueStore) GetByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Entries[id]
	if !ok {
		return nil, appErrors.ErrConcurrencyConflict
	}
	cp := *e
	return &cp, nil
}

func (s *QueueStore) MarkDispatched(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Entries[id]
	if !ok {
		return appErrors.ErrConcurrencyConflict
	}
	e.Status = model.EntryDispatched
	return nil
}

func (s *QueueStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Entries[id]
	if !ok {
		return appErrors.ErrConcurrencyConflict
	}
	e.Status = model.EntryFailed
	e.LastError = reason
	return nil
}

func (s *QueueStore) Defer(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Entries[id]
	if !ok {
		return appErrors.ErrConcurrencyConflict
	}
	e.Status = model.EntryPending
	e.ClaimedAt = nil
	e.ScheduledFor = until
	return nil
}

func (s *QueueStore) MarkTriggered(ctx context.Context, ids []string, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.Entries[id]; ok {
			e.Status = model.EntryTriggered
			e.ExecutionID = executionID
		}
	}
	return nil
}

func (s *QueueStore) DeletePending(ctx context.Context, prospectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.Entries {
		if e.ProspectID == prospectID && e.Status == model.EntryPending {
			delete(s.Entries, id)
		}
	}
	return nil
}

func (s *QueueStore) RequeueStale(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.Entries {
		if e.Status == model.EntryClaimed && e.ClaimedAt != nil && e.ClaimedAt.Before(staleBefore) {
			e.Status = model.EntryPending
			e.ClaimedAt = nil
			count++
		}
	}
	return count, nil
}
