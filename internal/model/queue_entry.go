// internal/model/queue_entry.go
package model

import "time"

// QueueEntry is one pending scheduled send. The Lifecycle State Machine
// creates entries, the Dispatch Executor consumes them; nothing else writes.
// At most one entry exists per (prospect_id, step_index).
type QueueEntry struct {
	ID           string      `db:"id" json:"id"`
	ProspectID   string      `db:"prospect_id" json:"prospect_id"`
	StepIndex    int         `db:"step_index" json:"step_index"`
	ScheduledFor time.Time   `db:"scheduled_for" json:"scheduled_for"`
	AttemptCount int         `db:"attempt_count" json:"attempt_count"`
	Status       EntryStatus `db:"status" json:"status"`
	LastError    string      `db:"last_error" json:"last_error,omitempty"`
	ExecutionID  string      `db:"execution_id" json:"execution_id,omitempty"`
	ClaimedAt    *time.Time  `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}
