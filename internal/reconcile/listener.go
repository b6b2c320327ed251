// internal/reconcile/listener.go
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// Normalized provider event types. The provider's own names (new_relation,
// new_message) are mapped at the webhook edge.
const (
	EventRelationAccepted = "relation_accepted"
	EventMessageReceived  = "message_received"
)

// ProviderEvent is one asynchronous delivery/acceptance notification.
// ProfileURL is the public profile reference some events carry; it lets an
// event still match when the dispatch never recorded a provider id.
type ProviderEvent struct {
	EventType  string    `json:"event_type"`
	ProviderID string    `json:"provider_id"`
	ProfileURL string    `json:"profile_url,omitempty"`
	AccountID  string    `json:"account_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener ingests provider events and advances prospect state. The provider
// delivers at least once, so every path here is idempotent; an event that
// matches no prospect is logged and dropped, never a crash.
type Listener struct {
	Prospects repository.ProspectRepositoryInterface
	Machine   *lifecycle.Machine
	Log       *zap.Logger
}

func (l *Listener) OnProviderEvent(ctx context.Context, event ProviderEvent) error {
	metrics.ProviderEvents.WithLabelValues(event.EventType).Inc()

	if event.ProviderID == "" {
		l.Log.Warn("provider event without provider id dropped",
			zap.String("event_type", event.EventType))
		metrics.ReconciliationMismatches.Inc()
		return nil
	}

	prospect, err := l.Prospects.GetByProviderUserID(ctx, event.ProviderID)
	if err != nil {
		return err
	}
	if prospect == nil && event.ProfileURL != "" {
		// Dispatch may not have recorded a provider id (email fallback or a
		// provider response without one). Match on the profile reference and
		// backfill the id so future events take the fast path.
		prospect, err = l.Prospects.GetByProfileURL(ctx, event.ProfileURL)
		if err != nil {
			return err
		}
		if prospect != nil && prospect.ProviderUserID == "" {
			if err := l.Prospects.SetProviderUserID(ctx, prospect.ID, event.ProviderID); err != nil {
				return err
			}
			prospect.ProviderUserID = event.ProviderID
			l.Log.Info("provider user id backfilled",
				zap.String("prospect_id", prospect.ID),
				zap.String("provider_id", event.ProviderID),
			)
		}
	}
	if prospect == nil {
		l.Log.Warn("provider event matched no prospect, dropped",
			zap.String("event_type", event.EventType),
			zap.String("provider_id", event.ProviderID),
		)
		metrics.ReconciliationMismatches.Inc()
		return nil
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch event.EventType {
	case EventRelationAccepted:
		moved, err := l.Machine.AcceptConnection(ctx, prospect, at)
		if err != nil {
			return err
		}
		if !moved {
			l.Log.Debug("duplicate acceptance event ignored",
				zap.String("prospect_id", prospect.ID))
			return nil
		}
		l.Log.Info("connection accepted",
			zap.String("prospect_id", prospect.ID),
			zap.String("provider_id", event.ProviderID),
		)
		return nil

	case EventMessageReceived:
		moved, err := l.Machine.RecordReply(ctx, prospect.ID)
		if err != nil {
			return err
		}
		if !moved {
			l.Log.Debug("duplicate reply event ignored",
				zap.String("prospect_id", prospect.ID))
			return nil
		}
		l.Log.Info("prospect replied",
			zap.String("prospect_id", prospect.ID),
			zap.String("provider_id", event.ProviderID),
		)
		return nil

	default:
		l.Log.Warn("unhandled provider event type dropped",
			zap.String("event_type", event.EventType))
		return nil
	}
}
