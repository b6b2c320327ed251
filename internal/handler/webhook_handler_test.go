package handler_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/cadence"
	"github.com/unclebandit/prospectpilot-backend/internal/handler"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/reconcile"
	"github.com/unclebandit/prospectpilot-backend/internal/repository/repotest"
)

const testSecret = "whsec_test"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newHandler(t *testing.T) (*handler.WebhookHandler, *repotest.ProspectStore) {
	t.Helper()
	prospects := repotest.NewProspectStore()
	campaigns := repotest.NewCampaignStore()
	campaigns.Linked = prospects
	queue := repotest.NewQueueStore()
	prospects.Queue = queue
	machine := lifecycle.NewMachine(prospects, campaigns, queue, cadence.NewResolver(nil), zap.NewNop())

	campaigns.Add(&model.Campaign{
		ID:               "c1",
		Status:           model.CampaignActive,
		MessageTemplates: []string{"Hi", "Follow up {first_name}"},
	})
	prospects.Add(&model.Prospect{
		ID:             "p1",
		CampaignID:     "c1",
		FirstName:      "Ada",
		ProfileURL:     "https://provider.example/in/ada",
		ProviderUserID: "prov-1",
		Status:         model.ProspectDispatched,
		StepIndex:      1,
	})

	listener := &reconcile.Listener{Prospects: prospects, Machine: machine, Log: zap.NewNop()}
	return handler.NewWebhookHandler(testSecret, listener, zap.NewNop()), prospects
}

func post(h *handler.WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/provider", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(handler.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	h.ProviderEventHandler(w, req)
	return w
}

func TestWebhookValidSignatureProcessesEvent(t *testing.T) {
	h, prospects := newHandler(t)
	body := []byte(`{"event":"new_relation","user_id":"prov-1","timestamp":"` +
		time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC).Format(time.RFC3339) + `"}`)

	w := post(h, body, sign(testSecret, body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ProspectQueued, prospects.Get("p1").Status)
	assert.NotNil(t, prospects.Get("p1").ConnectionAcceptedAt)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	h, prospects := newHandler(t)
	body := bytes.Repeat([]byte("a"), 1<<20+1)

	w := post(h, body, sign(testSecret, body))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, prospects := newHandler(t)
	body := []byte(`{"event":"new_relation","user_id":"prov-1"}`)

	w := post(h, body, sign("wrong secret", body))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h, _ := newHandler(t)
	body := []byte(`{"event":"new_relation","user_id":"prov-1"}`)

	w := post(h, body, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookSignatureCoversExactBody(t *testing.T) {
	h, _ := newHandler(t)
	body := []byte(`{"event":"new_relation","user_id":"prov-1"}`)
	tampered := []byte(`{"event":"new_relation","user_id":"prov-2"}`)

	// Valid signature for a different payload must not authenticate.
	w := post(h, tampered, sign(testSecret, body))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookNewMessageMarksReplied(t *testing.T) {
	h, prospects := newHandler(t)
	body := []byte(`{"event":"new_message","user_id":"prov-1"}`)

	w := post(h, body, sign(testSecret, body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ProspectReplied, prospects.Get("p1").Status)
}

func TestWebhookUnknownEventIsAcknowledged(t *testing.T) {
	h, prospects := newHandler(t)
	body := []byte(`{"event":"profile_viewed","user_id":"prov-1"}`)

	// Unknown event names are acknowledged so the provider stops retrying.
	w := post(h, body, sign(testSecret, body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ProspectDispatched, prospects.Get("p1").Status)
}

func TestWebhookMalformedBodyIsBadRequest(t *testing.T) {
	h, _ := newHandler(t)
	body := []byte(`{"event":`)

	w := post(h, body, sign(testSecret, body))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
