package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// CreateAdminParams describes a new account.
type CreateAdminParams struct {
	Email       string
	Username    string
	Password    string
	Role        model.Role
	AccessLevel model.AccessLevel // empty selects the role default
	Permissions model.ScopeSet
	Active      *bool // nil means active
}

// UpdateAdminParams carries the fields to change; nil fields are left alone.
type UpdateAdminParams struct {
	Email       *string
	Username    *string
	Role        *model.Role
	AccessLevel *model.AccessLevel
	Permissions *model.ScopeSet
	Active      *bool
}

// AdminManager is the admin user CRUD surface. Every mutation runs the
// guard first and records one changelog entry after it commits.
type AdminManager struct {
	admins AdminStore
	creds  *CredentialStore
	guard  *Guard
	audit  Auditor
	clock  Clock
}

// NewAdminManager creates an AdminManager.
func NewAdminManager(admins AdminStore, creds *CredentialStore, guard *Guard, audit Auditor, clock Clock) *AdminManager {
	if clock == nil {
		clock = SystemClock()
	}
	return &AdminManager{admins: admins, creds: creds, guard: guard, audit: audit, clock: clock}
}

// List returns every account.
func (m *AdminManager) List(ctx context.Context, actx *AuthContext) ([]model.AdminUser, error) {
	if err := m.guard.RequireScope(actx, model.ScopeAdminRead); err != nil {
		return nil, err
	}
	users, err := m.admins.ListAdmins(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	return users, nil
}

// Get returns one account. Callers may always read their own.
func (m *AdminManager) Get(ctx context.Context, actx *AuthContext, id string) (*model.AdminUser, error) {
	if !actx.IsSelf(id) {
		if err := m.guard.RequireScope(actx, model.ScopeAdminRead); err != nil {
			return nil, err
		}
	}
	return m.creds.LookupByID(ctx, id)
}

// Create adds an account.
func (m *AdminManager) Create(ctx context.Context, actx *AuthContext, p CreateAdminParams) (*model.AdminUser, error) {
	if !p.Role.Valid() {
		return nil, invalid("unknown role %q", p.Role)
	}
	if p.Permissions == nil {
		p.Permissions = model.NewScopeSet()
	}
	if err := checkPermissions(p.Permissions); err != nil {
		return nil, err
	}
	if err := m.guard.CheckGrant(actx, p.Role, p.Permissions); err != nil {
		return nil, err
	}

	email, username, err := normalizeIdentity(p.Email, p.Username)
	if err != nil {
		return nil, err
	}
	level := p.AccessLevel
	if level == "" {
		level = model.DefaultAccessLevel(p.Role)
	}
	if !level.Valid() {
		return nil, invalid("unknown access level %q", level)
	}
	hash, err := m.creds.HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	u := &model.AdminUser{
		ID:           newID(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         p.Role,
		AccessLevel:  level,
		Permissions:  p.Permissions.Clone(),
		Active:       p.Active == nil || *p.Active,
	}
	if err := m.admins.CreateAdmin(ctx, u); err != nil {
		return nil, Classify(err)
	}
	recordChange(ctx, m.audit, m.clock, actx, "admin_user", u.ID, model.ActionCreated, map[string]interface{}{
		"username":     u.Username,
		"email":        u.Email,
		"role":         string(u.Role),
		"access_level": string(u.AccessLevel),
		"permissions":  u.Permissions.Strings(),
		"active":       u.Active,
	})
	return u, nil
}

// Update changes the given fields of an account after running the
// self-protection checks that apply to each one.
func (m *AdminManager) Update(ctx context.Context, actx *AuthContext, id string, p UpdateAdminParams) (*model.AdminUser, error) {
	if actx == nil || actx.Principal == nil {
		return nil, ErrUnauthenticated
	}
	target, err := m.creds.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Checks run against the stored state, not the partly edited one.
	current := *target
	changes := map[string]interface{}{}

	if p.Role != nil {
		if !p.Role.Valid() {
			return nil, invalid("unknown role %q", *p.Role)
		}
		if err := m.guard.CheckRoleChange(actx, &current, *p.Role); err != nil {
			return nil, err
		}
		if *p.Role != target.Role {
			changes["role"] = map[string]interface{}{"from": string(target.Role), "to": string(*p.Role)}
			target.Role = *p.Role
		}
	}
	if p.Active != nil && !*p.Active {
		if err := m.guard.CheckDeactivate(actx, &current); err != nil {
			return nil, err
		}
	}
	if p.Permissions != nil || p.AccessLevel != nil {
		perms := target.Permissions
		if p.Permissions != nil {
			perms = *p.Permissions
			if perms == nil {
				perms = model.NewScopeSet()
			}
			if err := checkPermissions(perms); err != nil {
				return nil, err
			}
		}
		if err := m.guard.CheckPermissionChange(actx, &current, perms); err != nil {
			return nil, err
		}
		if p.Permissions != nil {
			changes["permissions"] = perms.Strings()
			target.Permissions = perms.Clone()
		}
		if p.AccessLevel != nil {
			if !p.AccessLevel.Valid() {
				return nil, invalid("unknown access level %q", *p.AccessLevel)
			}
			changes["access_level"] = string(*p.AccessLevel)
			target.AccessLevel = *p.AccessLevel
		}
	}
	if p.Email != nil || p.Username != nil || p.Active != nil {
		if err := m.guard.CheckModify(actx, &current); err != nil {
			return nil, err
		}
	}
	if p.Email != nil || p.Username != nil {
		email, username := target.Email, target.Username
		if p.Email != nil {
			email = *p.Email
		}
		if p.Username != nil {
			username = *p.Username
		}
		email, username, err = normalizeIdentity(email, username)
		if err != nil {
			return nil, err
		}
		if email != target.Email {
			changes["email"] = email
		}
		if username != target.Username {
			changes["username"] = username
		}
		target.Email, target.Username = email, username
	}
	if p.Active != nil && *p.Active != target.Active {
		changes["active"] = *p.Active
		target.Active = *p.Active
	}

	if len(changes) == 0 {
		return target, nil
	}
	if err := m.admins.UpdateAdmin(ctx, target); err != nil {
		return nil, Classify(err)
	}
	recordChange(ctx, m.audit, m.clock, actx, "admin_user", target.ID, model.ActionUpdated, changes)
	return target, nil
}

// Delete removes an account. Nobody may delete their own.
func (m *AdminManager) Delete(ctx context.Context, actx *AuthContext, id string) error {
	if actx == nil || actx.Principal == nil {
		return ErrUnauthenticated
	}
	if actx.IsSelf(id) {
		return forbidden("cannot delete your own account")
	}
	target, err := m.creds.LookupByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.guard.CheckDelete(actx, target); err != nil {
		return err
	}
	if err := m.admins.DeleteAdmin(ctx, id); err != nil {
		return Classify(err)
	}
	recordChange(ctx, m.audit, m.clock, actx, "admin_user", id, model.ActionDeleted, map[string]interface{}{
		"username": target.Username,
		"role":     string(target.Role),
	})
	return nil
}

// checkPermissions rejects the master scope as an explicit permission.
func checkPermissions(perms model.ScopeSet) error {
	if perms.Contains(model.ScopeMaster) {
		return invalid("the master scope is granted by role only")
	}
	return nil
}

func normalizeIdentity(email, username string) (string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", invalid("username is required")
	}
	if strings.ContainsAny(username, " @") {
		return "", "", invalid("username must not contain spaces or @")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", invalid("invalid email %q", email)
	}
	return email, username, nil
}
