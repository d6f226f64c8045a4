package model

import "time"

// SessionType distinguishes dashboard sessions from project-bound ones.
type SessionType string

const (
	SessionAdmin   SessionType = "admin"
	SessionProject SessionType = "project"
)

// Session is a bearer credential with a frozen scope snapshot. Only the
// SHA-256 hash of the token is persisted; Token is populated on creation.
type Session struct {
	ID         string            `json:"id"`
	Token      string            `json:"-"`
	TokenHash  string            `json:"-"`
	Type       SessionType       `json:"type"`
	UserID     string            `json:"user_id"`
	ProjectID  *string           `json:"project_id,omitempty"`
	ProjectIDs []string          `json:"project_ids"` // copied from the key; nil means unrestricted
	APIKeyID   *string           `json:"api_key_id,omitempty"`
	Scopes     ScopeSet          `json:"scopes"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Consumed   bool              `json:"consumed"`
	ConsumedAt *time.Time        `json:"consumed_at,omitempty"`
	LastSeenAt *time.Time        `json:"last_seen_at,omitempty"`
}

// ActiveAt reports whether the session is usable at instant now. A session
// is valid at ExpiresAt-1ns and invalid at ExpiresAt.
func (s *Session) ActiveAt(now time.Time) bool {
	return !s.Consumed && now.Before(s.ExpiresAt)
}

// ProjectRestricted reports whether the session is limited to a project
// list. An empty non-nil list allows no project at all.
func (s *Session) ProjectRestricted() bool {
	return s.ProjectIDs != nil
}

// AllowsProject reports whether the session may act on projectID.
func (s *Session) AllowsProject(projectID string) bool {
	if s.ProjectIDs == nil {
		return true
	}
	for _, id := range s.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}
