package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/prospectpilot-backend/internal/model"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]model.ProspectStatus{
		"pending":                 model.ProspectPending,
		"QUEUED":                  model.ProspectQueued,
		"  connected  ":           model.ProspectConnected,
		"ready_to_message":        model.ProspectApproved,
		"cr_sent":                 model.ProspectDispatched,
		"connection_request_sent": model.ProspectDispatched,
		"accepted":                model.ProspectConnected,
		"completed":               model.ProspectConnected,
	}
	for raw, want := range cases {
		got, ok := model.NormalizeStatus(raw)
		assert.True(t, ok, "expected %q to normalize", raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"", "on_hold", "sent?", "approved!"} {
		_, ok := model.NormalizeStatus(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, model.ProspectReplied.Terminal())
	assert.True(t, model.ProspectFailed.Terminal())
	assert.True(t, model.ProspectCancelled.Terminal())
	assert.False(t, model.ProspectDispatched.Terminal())
	assert.False(t, model.ProspectConnected.Terminal())
}

func TestCampaignStepHelpers(t *testing.T) {
	c := &model.Campaign{
		MessageTemplates: []string{"one", "two"},
		CadenceLabels:    []string{"", "2 days"},
	}
	assert.True(t, c.HasStep(0))
	assert.True(t, c.HasStep(1))
	assert.False(t, c.HasStep(2))
	assert.False(t, c.HasStep(-1))
	assert.Equal(t, "two", c.TemplateFor(1))
	assert.Equal(t, "", c.TemplateFor(5))
	assert.Equal(t, "2 days", c.CadenceFor(1))
	assert.Equal(t, "", c.CadenceFor(3))
}
