// internal/handler/webhook_handler.go
package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/reconcile"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Provider-Signature"

// maxBodyBytes caps webhook payloads, matching the provider client's
// response cap.
const maxBodyBytes = 1 << 20

// providerEventNames maps the provider's wire event names onto the
// normalized ones the reconciliation listener understands.
var providerEventNames = map[string]string{
	"new_relation": reconcile.EventRelationAccepted,
	"new_message":  reconcile.EventMessageReceived,
}

// WebhookHandler receives provider callbacks. Bodies are authenticated with
// an HMAC over the exact raw bytes before any parsing happens.
type WebhookHandler struct {
	Secret   string
	Listener *reconcile.Listener
	Log      *zap.Logger
}

func NewWebhookHandler(secret string, listener *reconcile.Listener, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Secret:   secret,
		Listener: listener,
		Log:      log,
	}
}

// ProviderEventHandler handles POST /webhooks/provider.
func (h *WebhookHandler) ProviderEventHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.Log.Warn("webhook signature mismatch", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Event      string    `json:"event"`
		UserID     string    `json:"user_id"`
		ProfileURL string    `json:"user_profile_url"`
		AccountID  string    `json:"account_id"`
		Timestamp  time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	eventType, ok := providerEventNames[payload.Event]
	if !ok {
		h.Log.Warn("unrecognized provider event, dropped", zap.String("event", payload.Event))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}

	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	event := reconcile.ProviderEvent{
		EventType:  eventType,
		ProviderID: payload.UserID,
		ProfileURL: payload.ProfileURL,
		AccountID:  payload.AccountID,
		Timestamp:  ts,
	}
	if err := h.Listener.OnProviderEvent(r.Context(), event); err != nil {
		h.Log.Error("failed to process provider event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
