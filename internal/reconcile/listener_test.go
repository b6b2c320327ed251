package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/cadence"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/reconcile"
	"github.com/unclebandit/prospectpilot-backend/internal/repository/repotest"
)

func newListener(t *testing.T) (*reconcile.Listener, *repotest.ProspectStore, *repotest.CampaignStore, *repotest.QueueStore) {
	t.Helper()
	prospects := repotest.NewProspectStore()
	campaigns := repotest.NewCampaignStore()
	campaigns.Linked = prospects
	queue := repotest.NewQueueStore()
	prospects.Queue = queue
	machine := lifecycle.NewMachine(prospects, campaigns, queue, cadence.NewResolver(nil), zap.NewNop())

	return &reconcile.Listener{
		Prospects: prospects,
		Machine:   machine,
		Log:       zap.NewNop(),
	}, prospects, campaigns, queue
}

func dispatchedProspect(providerUserID string) *model.Prospect {
	return &model.Prospect{
		ID:             "p1",
		CampaignID:     "c1",
		FirstName:      "Ada",
		ProfileURL:     "https://provider.example/in/ada",
		ProviderUserID: providerUserID,
		Status:         model.ProspectDispatched,
		StepIndex:      1,
	}
}

func TestRelationAcceptedAdvancesAndSchedules(t *testing.T) {
	listener, prospects, campaigns, queue := newListener(t)
	campaigns.Add(&model.Campaign{
		ID:               "c1",
		Status:           model.CampaignActive,
		MessageTemplates: []string{"Hi", "Thanks for connecting, {first_name}"},
		CadenceLabels:    []string{"", "2 days"},
	})
	prospects.Add(dispatchedProspect("prov-1"))

	accepted := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType:  reconcile.EventRelationAccepted,
		ProviderID: "prov-1",
		Timestamp:  accepted,
	})
	require.NoError(t, err)

	p := prospects.Get("p1")
	assert.Equal(t, model.ProspectQueued, p.Status)
	require.NotNil(t, p.ConnectionAcceptedAt)
	assert.Equal(t, accepted, *p.ConnectionAcceptedAt)

	entry := queue.ForProspect("p1", 1)
	require.NotNil(t, entry)
	assert.Equal(t, accepted.AddDate(0, 0, 2), entry.ScheduledFor)
}

func TestDuplicateAcceptanceIsNoOp(t *testing.T) {
	listener, prospects, campaigns, queue := newListener(t)
	campaigns.Add(&model.Campaign{
		ID:               "c1",
		Status:           model.CampaignActive,
		MessageTemplates: []string{"Hi", "Follow up"},
	})
	prospects.Add(dispatchedProspect("prov-1"))

	event := reconcile.ProviderEvent{
		EventType:  reconcile.EventRelationAccepted,
		ProviderID: "prov-1",
		Timestamp:  time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, listener.OnProviderEvent(context.Background(), event))

	first := *prospects.Get("p1").ConnectionAcceptedAt
	firstVersion := prospects.Get("p1").Version

	event.Timestamp = event.Timestamp.Add(time.Hour)
	require.NoError(t, listener.OnProviderEvent(context.Background(), event))

	p := prospects.Get("p1")
	assert.Equal(t, first, *p.ConnectionAcceptedAt)
	assert.Equal(t, firstVersion, p.Version)

	count := 0
	for range queue.Entries {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestMessageReceivedMarksRepliedAndClearsQueue(t *testing.T) {
	listener, prospects, campaigns, queue := newListener(t)
	campaigns.Add(&model.Campaign{
		ID:               "c1",
		Status:           model.CampaignActive,
		MessageTemplates: []string{"Hi", "Follow up"},
	})
	p := dispatchedProspect("prov-1")
	p.Status = model.ProspectConnected
	prospects.Add(p)
	_, err := queue.Enqueue(context.Background(), "p1", 1, time.Now().Add(48*time.Hour))
	require.NoError(t, err)

	err = listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType:  reconcile.EventMessageReceived,
		ProviderID: "prov-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.ProspectReplied, prospects.Get("p1").Status)
	assert.Nil(t, queue.ForProspect("p1", 1))
}

func TestReplyIsTerminal(t *testing.T) {
	listener, prospects, campaigns, _ := newListener(t)
	campaigns.Add(&model.Campaign{ID: "c1", Status: model.CampaignActive, MessageTemplates: []string{"Hi"}})
	p := dispatchedProspect("prov-1")
	p.Status = model.ProspectReplied
	prospects.Add(p)

	// Neither a late acceptance nor a second reply moves a replied prospect.
	for _, eventType := range []string{reconcile.EventRelationAccepted, reconcile.EventMessageReceived} {
		err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
			EventType:  eventType,
			ProviderID: "prov-1",
		})
		require.NoError(t, err)
		assert.Equal(t, model.ProspectReplied, prospects.Get("p1").Status)
	}
}

func TestProviderUserIDBackfilledFromProfileURL(t *testing.T) {
	listener, prospects, campaigns, _ := newListener(t)
	campaigns.Add(&model.Campaign{
		ID:               "c1",
		Status:           model.CampaignActive,
		MessageTemplates: []string{"Hi", "Follow up"},
	})
	// Dispatch never recorded a provider id for this prospect.
	prospects.Add(dispatchedProspect(""))

	err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType:  reconcile.EventRelationAccepted,
		ProviderID: "prov-late",
		ProfileURL: "https://provider.example/in/ada",
	})
	require.NoError(t, err)

	p := prospects.Get("p1")
	assert.Equal(t, "prov-late", p.ProviderUserID)
	assert.Equal(t, model.ProspectQueued, p.Status)
	require.NotNil(t, p.ConnectionAcceptedAt)
}

func TestUnmatchedEventIsDropped(t *testing.T) {
	listener, prospects, _, _ := newListener(t)
	prospects.Add(dispatchedProspect("prov-1"))

	err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType:  reconcile.EventRelationAccepted,
		ProviderID: "prov-unknown",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}

func TestEventWithoutProviderIDIsDropped(t *testing.T) {
	listener, prospects, _, _ := newListener(t)
	// An empty provider id must never match a prospect that has none yet.
	p := dispatchedProspect("")
	prospects.Add(p)

	err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType: reconcile.EventRelationAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}

func TestUnknownEventTypeIsDropped(t *testing.T) {
	listener, prospects, _, _ := newListener(t)
	prospects.Add(dispatchedProspect("prov-1"))

	err := listener.OnProviderEvent(context.Background(), reconcile.ProviderEvent{
		EventType:  "profile_viewed",
		ProviderID: "prov-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}
