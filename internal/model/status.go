// internal/model/status.go
package model

import "strings"

// ProspectStatus is the closed lifecycle enumeration for a prospect.
type ProspectStatus string

const (
	ProspectPending    ProspectStatus = "pending"
	ProspectApproved   ProspectStatus = "approved"
	ProspectQueued     ProspectStatus = "queued"
	ProspectDispatched ProspectStatus = "dispatched"
	ProspectConnected  ProspectStatus = "connected"
	ProspectReplied    ProspectStatus = "replied"
	ProspectFailed     ProspectStatus = "failed"
	ProspectCancelled  ProspectStatus = "cancelled"
)

// Terminal reports whether no further automatic transition is possible.
// failed is re-enterable only through an explicit administrative reset.
func (s ProspectStatus) Terminal() bool {
	return s == ProspectReplied || s == ProspectFailed || s == ProspectCancelled
}

// statusAliases maps legacy status strings seen in imported data onto the
// closed enumeration. Anything not listed here and not already canonical is
// rejected at ingestion.
var statusAliases = map[string]ProspectStatus{
	"ready_to_message":        ProspectApproved,
	"cr_sent":                 ProspectDispatched,
	"connection_request_sent": ProspectDispatched,
	"accepted":                ProspectConnected,
	"completed":               ProspectConnected,
}

// NormalizeStatus resolves a raw status string (canonical or legacy alias)
// to its canonical value. ok is false for unknown strings.
func NormalizeStatus(raw string) (ProspectStatus, bool) {
	s := ProspectStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case ProspectPending, ProspectApproved, ProspectQueued, ProspectDispatched,
		ProspectConnected, ProspectReplied, ProspectFailed, ProspectCancelled:
		return s, true
	}
	if alias, ok := statusAliases[string(s)]; ok {
		return alias, true
	}
	return "", false
}

// CampaignStatus governs whether prospects of a campaign may be scheduled.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// EntryStatus is the dispatch queue entry lifecycle. "triggered" means a
// workflow runner accepted the batch but has not yet reported completion for
// this prospect; the entry is still outstanding.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryClaimed    EntryStatus = "claimed"
	EntryTriggered  EntryStatus = "triggered"
	EntryDispatched EntryStatus = "dispatched"
	EntryFailed     EntryStatus = "failed"
)
