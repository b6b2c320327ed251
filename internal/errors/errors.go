// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Provider error categories, machine-readable so the state machine can pick
// the right retry policy.
type ProviderErrorCategory string

const (
	CategoryInvalidIdentity ProviderErrorCategory = "invalid_identity"
	CategoryPolicyRejected  ProviderErrorCategory = "policy_rejected"
	CategoryRateLimited     ProviderErrorCategory = "rate_limited"
	CategoryTransient       ProviderErrorCategory = "transient"
)

// ValidationError covers bad templates, missing identities and other
// fail-closed conditions. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func NewValidation(reason string) error {
	return &ValidationError{Reason: reason}
}

// ProviderError wraps a gateway failure with its category and the verbatim
// payload the provider returned, preserved for operator diagnosis.
type ProviderError struct {
	Category   ProviderErrorCategory
	StatusCode int
	Payload    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s, status %d): %s", e.Category, e.StatusCode, e.Payload)
}

// Transient reports whether the failure is worth retrying with backoff.
func (e *ProviderError) Transient() bool {
	return e.Category == CategoryTransient || e.Category == CategoryRateLimited
}

func NewProviderError(category ProviderErrorCategory, status int, payload string) error {
	return &ProviderError{Category: category, StatusCode: status, Payload: payload}
}

// ReconciliationMismatch is raised when a provider event matches no known
// prospect. Logged and dropped, never fatal.
type ReconciliationMismatch struct {
	ProviderID string
	EventType  string
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("no prospect matches provider id %q for event %q", e.ProviderID, e.EventType)
}

// ErrConcurrencyConflict means a conditional update lost to another worker.
// The entry is simply skipped this cycle.
var ErrConcurrencyConflict = errors.New("claim lost to concurrent worker")

// ErrInvalidTransition guards the lifecycle transition table.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrProspectNotFound struct {
	ProspectID string
}

func (e *ErrProspectNotFound) Error() string {
	return fmt.Sprintf("prospect %s not found", e.ProspectID)
}

func NewProspectNotFound(id string) error {
	return &ErrProspectNotFound{ProspectID: id}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}
