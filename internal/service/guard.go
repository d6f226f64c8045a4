package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// AuthContext is the authenticated caller of one request: the principal as
// stored now, the session that carried the request and the session's frozen
// scopes.
type AuthContext struct {
	Principal *model.AdminUser
	Session   *model.Session
	Scopes    model.ScopeSet
}

// Has reports whether the caller holds scope.
func (a *AuthContext) Has(scope model.Scope) bool {
	return a != nil && model.HasScope(a.Scopes, scope)
}

// IsSelf reports whether id is the caller's own account.
func (a *AuthContext) IsSelf(id string) bool {
	return a != nil && a.Principal != nil && a.Principal.ID == id
}

// IsMaster reports whether the caller's role is master_admin.
func (a *AuthContext) IsMaster() bool {
	return a != nil && a.Principal != nil && a.Principal.IsMaster()
}

// SessionID returns the id of the carrying session, or "".
func (a *AuthContext) SessionID() string {
	if a == nil || a.Session == nil {
		return ""
	}
	return a.Session.ID
}

// Guard authenticates bearer tokens and enforces the self-protection and
// role hierarchy rules that run before every privileged mutation.
type Guard struct {
	sessions *SessionManager
	creds    *CredentialStore
}

// NewGuard creates a guard.
func NewGuard(sessions *SessionManager, creds *CredentialStore) *Guard {
	return &Guard{sessions: sessions, creds: creds}
}

// Authenticate resolves a bearer token into an AuthContext. Any session or
// principal failure is reported as ErrUnauthenticated wrapping the cause;
// store outages keep ErrStoreUnavailable so they surface as such.
func (g *Guard) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	sess, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return nil, unauthenticated(err)
	}
	u, err := g.creds.LookupByID(ctx, sess.UserID)
	if err != nil {
		return nil, unauthenticated(err)
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: account is inactive", ErrUnauthenticated)
	}
	return &AuthContext{Principal: u, Session: sess, Scopes: sess.Scopes}, nil
}

func unauthenticated(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
}

// RequireScope fails with ErrForbidden unless the caller holds scope.
func (g *Guard) RequireScope(actx *AuthContext, scope model.Scope) error {
	if actx == nil {
		return ErrUnauthenticated
	}
	if !actx.Has(scope) {
		return forbidden(fmt.Sprintf("missing scope %s", scope))
	}
	return nil
}

// CheckRoleChange allows setting target's role to newRole. Changing one's
// own role is reserved to master_admin; granting or taking away master_admin
// is reserved to master_admin as well.
func (g *Guard) CheckRoleChange(actx *AuthContext, target *model.AdminUser, newRole model.Role) error {
	if actx == nil {
		return ErrUnauthenticated
	}
	if actx.IsSelf(target.ID) {
		if !actx.IsMaster() {
			return forbidden("only master_admin may change their own role")
		}
		return nil
	}
	if err := g.RequireScope(actx, model.ScopeAdminWrite); err != nil {
		return err
	}
	if (newRole == model.RoleMasterAdmin || target.IsMaster()) && !actx.IsMaster() {
		return forbidden("only master_admin may grant or revoke master_admin")
	}
	return nil
}

// CheckGrant allows creating an account with role and permissions.
func (g *Guard) CheckGrant(actx *AuthContext, role model.Role, permissions model.ScopeSet) error {
	if err := g.RequireScope(actx, model.ScopeAdminWrite); err != nil {
		return err
	}
	if role == model.RoleMasterAdmin && !actx.IsMaster() {
		return forbidden("only master_admin may create master_admin accounts")
	}
	if !actx.Scopes.Covers(permissions) {
		return forbidden("permissions exceed the caller's scopes")
	}
	return nil
}

// CheckModify allows editing another account's profile. Master accounts can
// only be edited by master_admin.
func (g *Guard) CheckModify(actx *AuthContext, target *model.AdminUser) error {
	if actx.IsSelf(target.ID) {
		return nil
	}
	if err := g.RequireScope(actx, model.ScopeAdminWrite); err != nil {
		return err
	}
	if target.IsMaster() && !actx.IsMaster() {
		return forbidden("only master_admin may modify master_admin accounts")
	}
	return nil
}

// CheckPermissionChange allows replacing target's permissions or access
// level. Nobody but master_admin may widen their own grants.
func (g *Guard) CheckPermissionChange(actx *AuthContext, target *model.AdminUser, permissions model.ScopeSet) error {
	if actx.IsSelf(target.ID) && !actx.IsMaster() {
		return forbidden("only master_admin may change their own permissions")
	}
	if err := g.CheckModify(actx, target); err != nil {
		return err
	}
	if !actx.Scopes.Covers(permissions) {
		return forbidden("permissions exceed the caller's scopes")
	}
	return nil
}

// CheckDelete forbids deleting one's own account under any role.
func (g *Guard) CheckDelete(actx *AuthContext, target *model.AdminUser) error {
	if actx == nil {
		return ErrUnauthenticated
	}
	if actx.IsSelf(target.ID) {
		return forbidden("cannot delete your own account")
	}
	if err := g.RequireScope(actx, model.ScopeAdminDelete); err != nil {
		return err
	}
	if target.IsMaster() && !actx.IsMaster() {
		return forbidden("only master_admin may delete master_admin accounts")
	}
	return nil
}

// CheckDeactivate forbids deactivating one's own account under any role.
func (g *Guard) CheckDeactivate(actx *AuthContext, target *model.AdminUser) error {
	if actx == nil {
		return ErrUnauthenticated
	}
	if actx.IsSelf(target.ID) {
		return forbidden("cannot deactivate your own account")
	}
	return g.CheckModify(actx, target)
}

// CheckKeyCreate gates key creation by type. Master keys require master_admin
// regardless of scopes.
func (g *Guard) CheckKeyCreate(actx *AuthContext, t model.KeyType) error {
	if actx == nil || actx.Principal == nil {
		return ErrUnauthenticated
	}
	return authorizeKeyType(actx.Principal.Role, t)
}
