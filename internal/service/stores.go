package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// AdminStore persists admin accounts. *config.Store implements it.
type AdminStore interface {
	CreateAdmin(ctx context.Context, u *model.AdminUser) error
	GetAdmin(ctx context.Context, id string) (*model.AdminUser, error)
	GetAdminByIdentifier(ctx context.Context, identifier string) (*model.AdminUser, error)
	GetAdminByAPIKeyHash(ctx context.Context, hash string) (*model.AdminUser, error)
	ListAdmins(ctx context.Context) ([]model.AdminUser, error)
	HasAnyAdmin(ctx context.Context) (bool, error)
	UpdateAdmin(ctx context.Context, u *model.AdminUser) error
	UpdateAdminPassword(ctx context.Context, id, hash string) error
	SetAdminAPIKey(ctx context.Context, id, hash, prefix string) error
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
	DeleteAdmin(ctx context.Context, id string) error
}

// APIKeyStore persists registry keys. *config.Store implements it.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *model.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists sessions. Both *config.Store and *redisstore.Store
// implement it.
//
// TouchSession must stamp last_seen_at only while the record is unconsumed,
// as a single atomic write, and then return the stored record. It returns an
// error wrapping config.ErrNotFound for an unknown hash.
// ConsumeSession must be an atomic compare-and-set on the consumed flag and
// must succeed for unknown or already consumed hashes.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	TouchSession(ctx context.Context, tokenHash string, at time.Time) (*model.Session, error)
	ConsumeSession(ctx context.Context, tokenHash string, at time.Time) error
	PurgeSessions(ctx context.Context, before time.Time) (int64, error)
}

// Auditor accepts changelog entries for committed mutations. Record must not
// block the caller on the audit store.
type Auditor interface {
	Record(ctx context.Context, e model.ChangelogEntry)
}

// newID returns a time-ordered UUIDv7 string.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
