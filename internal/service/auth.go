package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// LoginResult is returned by both login flows.
type LoginResult struct {
	Session *model.Session
	User    *model.AdminUser
	Scopes  model.ScopeSet
}

// AuthService wires the credential store, the key registry and the session
// manager into the login, logout and credential maintenance flows.
type AuthService struct {
	creds    *CredentialStore
	keys     *APIKeyRegistry
	sessions *SessionManager
	guard    *Guard
	admins   AdminStore
	audit    Auditor
	clock    Clock
	log      *slog.Logger
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Credentials *CredentialStore
	Keys        *APIKeyRegistry
	Sessions    *SessionManager
	Guard       *Guard
	Admins      AdminStore
	Audit       Auditor
	Clock       Clock
	Logger      *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(d AuthDeps) *AuthService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	return &AuthService{
		creds:    d.Credentials,
		keys:     d.Keys,
		sessions: d.Sessions,
		guard:    d.Guard,
		admins:   d.Admins,
		audit:    d.Audit,
		clock:    d.Clock,
		log:      d.Logger,
	}
}

// PasswordLogin verifies identifier and password and opens an admin session
// whose scopes derive from the account's role and permissions.
func (s *AuthService) PasswordLogin(ctx context.Context, identifier, password string, meta map[string]string) (*LoginResult, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.creds.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	scopes := DeriveFromRole(u.Role, u.Permissions)
	return s.openSession(ctx, u, CreateSessionParams{
		UserID:   u.ID,
		Type:     model.SessionAdmin,
		Scopes:   scopes,
		Metadata: withMeta(meta, "auth_method", "password"),
	})
}

// APIKeyLogin exchanges a key for a session. Registry keys are tried first;
// their scopes come from the key. Master and admin keys open admin sessions,
// project keys open project sessions. A key unknown to the registry is then
// tried as an inline convenience key, which carries the owner's role scopes.
func (s *AuthService) APIKeyLogin(ctx context.Context, rawKey string, meta map[string]string) (*LoginResult, error) {
	k, err := s.keys.Validate(ctx, rawKey)
	switch {
	case err == nil:
		return s.registryLogin(ctx, k, meta)
	case errors.Is(err, ErrInvalidAPIKey):
		return s.inlineLogin(ctx, rawKey, meta)
	default:
		return nil, err
	}
}

func (s *AuthService) registryLogin(ctx context.Context, k *model.APIKey, meta map[string]string) (*LoginResult, error) {
	owner, err := s.creds.LookupByID(ctx, k.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if !owner.Active {
		return nil, ErrInvalidAPIKey
	}

	keyID := k.ID
	p := CreateSessionParams{
		UserID:   owner.ID,
		Type:     model.SessionAdmin,
		APIKeyID: &keyID,
		Scopes:   DeriveFromAPIKey(k),
		Metadata: withMeta(meta, "auth_method", "api_key"),
	}
	if k.ProjectIDs != nil {
		p.ProjectIDs = k.ProjectIDs
	}
	if k.Type == model.KeyTypeProject {
		p.Type = model.SessionProject
		if len(k.ProjectIDs) == 1 {
			pid := k.ProjectIDs[0]
			p.ProjectID = &pid
		}
	}
	return s.openSession(ctx, owner, p)
}

func (s *AuthService) inlineLogin(ctx context.Context, rawKey string, meta map[string]string) (*LoginResult, error) {
	u, err := s.creds.LookupByInlineAPIKey(ctx, rawKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidAPIKey
	}
	return s.openSession(ctx, u, CreateSessionParams{
		UserID:   u.ID,
		Type:     model.SessionAdmin,
		Scopes:   DeriveFromRole(u.Role, u.Permissions),
		Metadata: withMeta(meta, "auth_method", "inline_api_key"),
	})
}

func (s *AuthService) openSession(ctx context.Context, u *model.AdminUser, p CreateSessionParams) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.admins.UpdateAdminLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("update last login failed", "admin_id", u.ID, "error", err)
	} else {
		u.LastLogin = &now
	}
	return &LoginResult{Session: sess, User: u, Scopes: sess.Scopes}, nil
}

func withMeta(meta map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for mk, mv := range meta {
		out[mk] = mv
	}
	out[k] = v
	return out
}

// ValidateSession reports the session behind token. A session whose
// account was deleted or deactivated is reported invalid, matching what the
// guard does for every other protected route.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*model.Session, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.creds.LookupByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOrExpiredSession
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidOrExpiredSession
	}
	return sess, nil
}

// Logout consumes the caller's session. Calling it again is harmless.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.Consume(ctx, token)
}

// CurrentUser returns the caller's account and the scopes of the session.
// The account's JSON form never includes the password hash.
func (s *AuthService) CurrentUser(actx *AuthContext) (*model.AdminUser, model.ScopeSet, error) {
	if actx == nil || actx.Principal == nil {
		return nil, nil, ErrUnauthenticated
	}
	return actx.Principal, actx.Scopes, nil
}

// ChangePassword re-verifies current before storing a new hash. Existing
// sessions stay valid.
func (s *AuthService) ChangePassword(ctx context.Context, actx *AuthContext, current, next string) error {
	if actx == nil || actx.Principal == nil {
		return ErrUnauthenticated
	}
	if !s.creds.VerifyPassword(actx.Principal, current) {
		return ErrInvalidCredentials
	}
	if current == next {
		return invalid("new password must differ from the current one")
	}
	hash, err := s.creds.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.admins.UpdateAdminPassword(ctx, actx.Principal.ID, hash); err != nil {
		return Classify(err)
	}
	recordChange(ctx, s.audit, s.clock, actx, "admin_user", actx.Principal.ID, model.ActionUpdated,
		map[string]interface{}{"password": "changed"})
	return nil
}

// RegenerateInlineAPIKey replaces the caller's convenience key and returns
// the new raw value. Bearer sessions are a separate mechanism and are left
// untouched.
func (s *AuthService) RegenerateInlineAPIKey(ctx context.Context, actx *AuthContext) (string, error) {
	if actx == nil || actx.Principal == nil {
		return "", ErrUnauthenticated
	}
	raw, err := GenerateKey()
	if err != nil {
		return "", err
	}
	prefix := raw[:keyPrefixLen]
	if err := s.admins.SetAdminAPIKey(ctx, actx.Principal.ID, config.HashSecret(raw), prefix); err != nil {
		return "", Classify(err)
	}
	recordChange(ctx, s.audit, s.clock, actx, "admin_user", actx.Principal.ID, model.ActionUpdated,
		map[string]interface{}{"api_key_prefix": prefix})
	return raw, nil
}

// ---------------------------------------------------------------------------
// Registry keys
// ---------------------------------------------------------------------------

// CreateAPIKey issues a registry key for the caller, or for another account
// when the caller may administer accounts.
func (s *AuthService) CreateAPIKey(ctx context.Context, actx *AuthContext, p CreateKeyParams) (*model.APIKey, string, error) {
	if err := s.guard.CheckKeyCreate(actx, p.Type); err != nil {
		return nil, "", err
	}
	if p.OwnerID != "" && !actx.IsSelf(p.OwnerID) {
		owner, err := s.creds.LookupByID(ctx, p.OwnerID)
		if err != nil {
			return nil, "", err
		}
		if err := s.guard.CheckModify(actx, owner); err != nil {
			return nil, "", err
		}
	}
	k, raw, err := s.keys.Create(ctx, actx, p)
	if err != nil {
		return nil, "", err
	}
	recordChange(ctx, s.audit, s.clock, actx, "api_key", k.ID, model.ActionCreated, map[string]interface{}{
		"name":     k.Name,
		"type":     string(k.Type),
		"owner_id": k.OwnerID,
		"scopes":   k.Scopes.Strings(),
	})
	return k, raw, nil
}

// RevokeAPIKey deactivates a key owned by the caller, or any key when the
// caller may administer accounts.
func (s *AuthService) RevokeAPIKey(ctx context.Context, actx *AuthContext, keyID string) error {
	k, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if !actx.IsSelf(k.OwnerID) {
		if err := s.guard.RequireScope(actx, model.ScopeAdminWrite); err != nil {
			return err
		}
		if k.Type == model.KeyTypeMaster && !actx.IsMaster() {
			return forbidden("only master_admin may revoke master keys")
		}
	}
	if err := s.keys.Revoke(ctx, keyID); err != nil {
		return err
	}
	if k.IsActive {
		recordChange(ctx, s.audit, s.clock, actx, "api_key", k.ID, model.ActionUpdated,
			map[string]interface{}{"is_active": false})
	}
	return nil
}

// ListAPIKeys returns the caller's keys. Callers holding admin:write may list
// another owner's keys, or every key with an empty owner.
func (s *AuthService) ListAPIKeys(ctx context.Context, actx *AuthContext, ownerID string) ([]model.APIKey, error) {
	if actx == nil || actx.Principal == nil {
		return nil, ErrUnauthenticated
	}
	if !actx.Has(model.ScopeAdminWrite) {
		ownerID = actx.Principal.ID
	}
	return s.keys.List(ctx, ownerID)
}

// ---------------------------------------------------------------------------
// Changelog helper
// ---------------------------------------------------------------------------

// recordChange hands one entry to the auditor. The mutation it describes has
// already committed, so nothing here can fail the caller.
func recordChange(ctx context.Context, a Auditor, clock Clock, actx *AuthContext, entityType, entityID string, action model.ChangeAction, changes map[string]interface{}) {
	if a == nil {
		return
	}
	e := model.ChangelogEntry{
		ID:         newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    changes,
		SessionID:  actx.SessionID(),
		Timestamp:  clock.Now(),
	}
	if actx != nil && actx.Principal != nil {
		e.PerformedBy = actx.Principal.ID
	}
	a.Record(context.WithoutCancel(ctx), e)
}

// ExpiresAt returns the absolute expiry of the issued session.
func (r *LoginResult) ExpiresAt() time.Time {
	return r.Session.ExpiresAt
}
