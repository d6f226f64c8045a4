package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// DefaultSessionTTL is the lifetime of a session when none is configured.
const DefaultSessionTTL = 24 * time.Hour

// CreateSessionParams describes a session to issue.
type CreateSessionParams struct {
	UserID     string
	Type       model.SessionType
	ProjectID  *string
	ProjectIDs []string // nil means unrestricted; empty allows no project
	APIKeyID   *string
	Scopes     model.ScopeSet
	Metadata   map[string]string
	TTL        time.Duration // zero means the manager's default
}

// SessionManager issues, validates and consumes bearer sessions.
//
// A session moves from active to expired when the clock reaches ExpiresAt,
// or to consumed on logout. Neither terminal state leads back to active.
type SessionManager struct {
	store SessionStore
	clock Clock
	ttl   time.Duration
}

// NewSessionManager creates a manager. A non-positive ttl selects DefaultSessionTTL.
func NewSessionManager(store SessionStore, clock Clock, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, clock: clock, ttl: ttl}
}

// TTL returns the default session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Create issues a session. The scope set is copied so later role or key
// changes never reach it. The returned session carries the raw token.
func (m *SessionManager) Create(ctx context.Context, p CreateSessionParams) (*model.Session, error) {
	if p.UserID == "" {
		return nil, invalid("session requires a user id")
	}
	if p.Type != model.SessionAdmin && p.Type != model.SessionProject {
		return nil, invalid("unknown session type %q", p.Type)
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}

	var projects []string
	if p.ProjectIDs != nil {
		projects = append([]string{}, p.ProjectIDs...)
	}

	now := m.clock.Now()
	sess := &model.Session{
		ID:         newID(),
		Token:      token,
		TokenHash:  config.HashSecret(token),
		Type:       p.Type,
		UserID:     p.UserID,
		ProjectID:  p.ProjectID,
		ProjectIDs: projects,
		APIKeyID:   p.APIKeyID,
		Scopes:     p.Scopes.Clone(),
		Metadata:   meta,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, Classify(err)
	}
	return sess, nil
}

// Validate returns the session for token if it is neither consumed nor
// expired. Expiry is exclusive: at ExpiresAt the session is already invalid.
func (m *SessionManager) Validate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredSession
	}
	now := m.clock.Now()
	sess, err := m.store.TouchSession(ctx, config.HashSecret(token), now)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidOrExpiredSession
		}
		return nil, Classify(err)
	}
	if !sess.ActiveAt(now) {
		return nil, ErrInvalidOrExpiredSession
	}
	return sess, nil
}

// Consume ends a session. It is idempotent and succeeds for unknown tokens.
func (m *SessionManager) Consume(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return Classify(m.store.ConsumeSession(ctx, config.HashSecret(token), m.clock.Now()))
}

// PurgeExpired removes sessions that ended more than retention ago. It is
// hygiene only; validity never depends on it.
func (m *SessionManager) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	n, err := m.store.PurgeSessions(ctx, m.clock.Now().Add(-retention))
	if err != nil {
		return 0, Classify(err)
	}
	return n, nil
}

// newSessionToken returns 256 bits of crypto/rand, base64url encoded.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
