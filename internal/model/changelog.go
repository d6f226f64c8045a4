package model

import "time"

// ChangeAction is the kind of mutation recorded in the changelog.
type ChangeAction string

const (
	ActionCreated ChangeAction = "created"
	ActionUpdated ChangeAction = "updated"
	ActionDeleted ChangeAction = "deleted"
)

// ChangelogEntry records one committed mutation.
type ChangelogEntry struct {
	ID          string                 `json:"id"`
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	Action      ChangeAction           `json:"action"`
	Changes     map[string]interface{} `json:"changes,omitempty"`
	PerformedBy string                 `json:"performed_by"`
	SessionID   string                 `json:"session_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// DeadLetter is a changelog entry that could not be persisted after retries.
type DeadLetter struct {
	ID        string         `json:"id"`
	Entry     ChangelogEntry `json:"entry"`
	LastError string         `json:"last_error"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
}
