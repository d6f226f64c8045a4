package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// KeyPrefix marks every raw secret issued by this service.
const KeyPrefix = "krapi_"

// keyPrefixLen is how much of a raw key is kept for display.
const keyPrefixLen = 12

// CreateKeyParams describes a new registry key.
type CreateKeyParams struct {
	OwnerID    string
	Name       string
	Type       model.KeyType
	Scopes     model.ScopeSet // nil means the type's defaults
	ProjectIDs []string       // nil means unrestricted
	ExpiresAt  *time.Time
}

// APIKeyRegistry validates, creates and revokes registry keys.
type APIKeyRegistry struct {
	keys  APIKeyStore
	clock Clock
	log   *slog.Logger
}

// NewAPIKeyRegistry creates a registry over keys.
func NewAPIKeyRegistry(keys APIKeyStore, clock Clock, logger *slog.Logger) *APIKeyRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyRegistry{keys: keys, clock: clock, log: logger}
}

// Validate resolves rawKey to a usable registry key. When acceptable types
// are given the key's type must be one of them. A successful validation is
// recorded with an atomic use counter increment.
func (r *APIKeyRegistry) Validate(ctx context.Context, rawKey string, acceptable ...model.KeyType) (*model.APIKey, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}
	k, err := r.keys.GetAPIKeyByHash(ctx, config.HashSecret(rawKey))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, Classify(err)
	}

	now := r.clock.Now()
	if !k.Usable(now) {
		if !k.IsActive {
			return nil, ErrInactiveAPIKey
		}
		return nil, ErrExpiredAPIKey
	}
	if len(acceptable) > 0 && !typeIn(k.Type, acceptable) {
		return nil, forbidden(fmt.Sprintf("api key type %q not accepted here", k.Type))
	}

	if err := r.keys.TouchAPIKey(ctx, k.ID, now); err != nil {
		r.log.Warn("record api key use failed", "key_id", k.ID, "error", err)
	} else {
		k.UseCount++
		k.LastUsedAt = &now
	}
	return k, nil
}

func typeIn(t model.KeyType, set []model.KeyType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

// Create issues a new registry key on behalf of actx. The raw secret is
// returned once and never stored.
func (r *APIKeyRegistry) Create(ctx context.Context, actx *AuthContext, p CreateKeyParams) (*model.APIKey, string, error) {
	if actx == nil || actx.Principal == nil {
		return nil, "", ErrUnauthenticated
	}
	if !p.Type.Valid() {
		return nil, "", invalid("unknown api key type %q", p.Type)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, "", invalid("name is required")
	}
	if err := authorizeKeyType(actx.Principal.Role, p.Type); err != nil {
		return nil, "", err
	}

	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = DefaultKeyScopes(p.Type, actx.Scopes)
	}
	if scopes.Contains(model.ScopeMaster) && p.Type != model.KeyTypeMaster {
		return nil, "", invalid("the master scope is reserved for master keys")
	}
	if !actx.Scopes.Covers(scopes) {
		return nil, "", forbidden("requested scopes exceed the caller's scopes")
	}

	now := r.clock.Now()
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return nil, "", invalid("expires_at must be in the future")
	}

	projects, err := narrowProjects(actx.Session, p.ProjectIDs)
	if err != nil {
		return nil, "", err
	}

	raw, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}

	owner := p.OwnerID
	if owner == "" {
		owner = actx.Principal.ID
	}
	k := &model.APIKey{
		ID:         newID(),
		OwnerID:    owner,
		Name:       p.Name,
		KeyHash:    config.HashSecret(raw),
		KeyPrefix:  raw[:keyPrefixLen],
		Type:       p.Type,
		Scopes:     scopes.Clone(),
		ProjectIDs: projects,
		ExpiresAt:  p.ExpiresAt,
		IsActive:   true,
	}
	if err := r.keys.CreateAPIKey(ctx, k); err != nil {
		return nil, "", Classify(err)
	}
	return k, raw, nil
}

// narrowProjects keeps a new key inside the project restriction of the
// session creating it. An unrestricted request from a restricted session
// inherits the session's list.
func narrowProjects(sess *model.Session, requested []string) ([]string, error) {
	if sess == nil || !sess.ProjectRestricted() {
		return requested, nil
	}
	if requested == nil {
		return append([]string{}, sess.ProjectIDs...), nil
	}
	for _, id := range requested {
		if !sess.AllowsProject(id) {
			return nil, forbidden(fmt.Sprintf("project %q is outside the session's projects", id))
		}
	}
	return requested, nil
}

// authorizeKeyType enforces which roles may mint which key types.
func authorizeKeyType(role model.Role, t model.KeyType) error {
	switch t {
	case model.KeyTypeMaster:
		if role != model.RoleMasterAdmin {
			return forbidden("only master_admin may create master keys")
		}
	case model.KeyTypeAdmin:
		if role != model.RoleMasterAdmin && role != model.RoleAdmin {
			return forbidden("only admins may create admin keys")
		}
	}
	return nil
}

// Revoke deactivates a key. Revoking twice succeeds. Sessions already issued
// from the key are not affected.
func (r *APIKeyRegistry) Revoke(ctx context.Context, keyID string) error {
	return Classify(r.keys.RevokeAPIKey(ctx, keyID))
}

// Get returns a key by id.
func (r *APIKeyRegistry) Get(ctx context.Context, keyID string) (*model.APIKey, error) {
	k, err := r.keys.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, Classify(err)
	}
	return k, nil
}

// List returns keys owned by ownerID, or all keys when ownerID is empty.
func (r *APIKeyRegistry) List(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	keys, err := r.keys.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, Classify(err)
	}
	return keys, nil
}

// GenerateKey returns a new raw secret: the krapi_ prefix followed by 32
// random bytes in hex.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}
