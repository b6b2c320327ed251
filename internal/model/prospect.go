// internal/model/prospect.go
package model

import (
	"strings"
	"time"
)

// Personalization carries the resolved template fields for a prospect along
// with their provenance and, after a send attempt, the provider dispatch
// metadata. Stored as a JSONB column.
type Personalization struct {
	Fields      map[string]string `json:"fields,omitempty"`
	Source      string            `json:"source,omitempty"`
	UploadedAt  *time.Time        `json:"uploaded_at,omitempty"`
	ApprovedAt  *time.Time        `json:"approved_at,omitempty"`
	Error       *string           `json:"error,omitempty"`
	QueuedAt    *time.Time        `json:"queued_at,omitempty"`
	ProviderID  string            `json:"provider_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
}

type Prospect struct {
	ID         string `db:"id" json:"id"`
	CampaignID string `db:"campaign_id" json:"campaign_id"`

	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Company   string `db:"company" json:"company"`
	JobTitle  string `db:"job_title" json:"job_title"`
	Location  string `db:"location" json:"location"`

	// ProfileURL is the provider-resolvable identity reference; Email is the
	// fallback channel. A prospect lacking both cannot be dispatched.
	ProfileURL string `db:"profile_url" json:"profile_url"`
	Email      string `db:"email" json:"email"`

	// ProviderUserID is assigned by the provider on first dispatch and is the
	// reconciliation key for webhook events.
	ProviderUserID string `db:"provider_user_id" json:"provider_user_id,omitempty"`

	Status          ProspectStatus  `db:"status" json:"status"`
	StepIndex       int             `db:"step_index" json:"step_index"`
	Personalization Personalization `db:"personalization" json:"personalization"`

	LastContactedAt      *time.Time `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	ConnectionAcceptedAt *time.Time `db:"connection_accepted_at" json:"connection_accepted_at,omitempty"`

	Version   int        `db:"version" json:"version"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// HasContactIdentity reports whether the provider can resolve this prospect
// through at least one channel.
func (p *Prospect) HasContactIdentity() bool {
	return strings.TrimSpace(p.ProfileURL) != "" || strings.TrimSpace(p.Email) != ""
}

func (p *Prospect) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// TemplateFields merges the prospect's contact columns with any uploaded
// personalization fields. Uploaded values win so enrichment data can override
// what was scraped.
func (p *Prospect) TemplateFields() map[string]string {
	fields := map[string]string{
		"first_name":   p.FirstName,
		"last_name":    p.LastName,
		"full_name":    p.FullName(),
		"company_name": p.Company,
		"job_title":    p.JobTitle,
		"location":     p.Location,
	}
	for k, v := range p.Personalization.Fields {
		fields[strings.ToLower(k)] = v
	}
	return fields
}
