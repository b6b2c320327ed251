// internal/model/campaign.go
package model

import "time"

type Campaign struct {
	ID          string         `db:"id" json:"id"`
	WorkspaceID string         `db:"workspace_id" json:"workspace_id"`
	Name        string         `db:"name" json:"name"`
	Status      CampaignStatus `db:"status" json:"status"`

	// MessageTemplates is the ordered step sequence: index 0 is the
	// connection request, indexes >=1 are follow-ups.
	MessageTemplates []string `db:"message_templates" json:"message_templates"`

	// CadenceLabels holds one human-readable delay label per step:
	// CadenceLabels[i] is the wait before step i is sent. A step with no
	// label is due immediately once its prospect becomes eligible.
	CadenceLabels []string `db:"cadence_labels" json:"cadence_labels"`

	// ProviderAccountRef is the sending identity used for every prospect in
	// this campaign.
	ProviderAccountRef string `db:"provider_account_ref" json:"provider_account_ref"`

	DailySendLimit int `db:"daily_send_limit" json:"daily_send_limit"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// TemplateFor returns the raw template for a step, or "" when the sequence
// has no such step.
func (c *Campaign) TemplateFor(step int) string {
	if step < 0 || step >= len(c.MessageTemplates) {
		return ""
	}
	return c.MessageTemplates[step]
}

// CadenceFor returns the delay label preceding a step, or "" when the step
// has no configured wait.
func (c *Campaign) CadenceFor(step int) string {
	if step < 0 || step >= len(c.CadenceLabels) {
		return ""
	}
	return c.CadenceLabels[step]
}

// HasStep reports whether the sequence defines a message for step.
func (c *Campaign) HasStep(step int) bool {
	return step >= 0 && step < len(c.MessageTemplates)
}
