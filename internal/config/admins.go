package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// adminRow maps 1:1 to the admins table. Permissions are stored as a JSON
// array and the inline key hash is nullable so that many accounts can lack one.
type adminRow struct {
	ID              string         `db:"id"`
	Email           string         `db:"email"`
	Username        string         `db:"username"`
	PasswordHash    string         `db:"password_hash"`
	Role            string         `db:"role"`
	AccessLevel     string         `db:"access_level"`
	PermissionsJSON string         `db:"permissions_json"`
	Active          bool           `db:"active"`
	APIKeyHash      sql.NullString `db:"api_key_hash"`
	APIKeyPrefix    string         `db:"api_key_prefix"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	LastLogin       sql.NullTime   `db:"last_login"`
}

const adminColumns = `id, email, username, password_hash, role, access_level, permissions_json,
	active, api_key_hash, api_key_prefix, created_at, updated_at, last_login`

func adminRowFromModel(u *model.AdminUser) (adminRow, error) {
	perms := u.Permissions
	if perms == nil {
		perms = model.NewScopeSet()
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return adminRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	row := adminRow{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		AccessLevel:     string(u.AccessLevel),
		PermissionsJSON: string(permsJSON),
		Active:          u.Active,
		APIKeyPrefix:    u.APIKeyPrefix,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		LastLogin:       nullTime(u.LastLogin),
	}
	if u.APIKeyHash != "" {
		row.APIKeyHash = sql.NullString{String: u.APIKeyHash, Valid: true}
	}
	return row, nil
}

func (r adminRow) toModel() (*model.AdminUser, error) {
	perms, err := model.DecodeStoredScopes([]byte(r.PermissionsJSON))
	if err != nil {
		return nil, fmt.Errorf("decode permissions for admin %s: %w", r.ID, err)
	}
	return &model.AdminUser{
		ID:           r.ID,
		Email:        r.Email,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Role:         model.Role(r.Role),
		AccessLevel:  model.AccessLevel(r.AccessLevel),
		Permissions:  perms,
		Active:       r.Active,
		APIKeyHash:   r.APIKeyHash.String,
		APIKeyPrefix: r.APIKeyPrefix,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    timePtr(r.LastLogin),
	}, nil
}

// ---------------------------------------------------------------------------
// Admin CRUD
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account. The ID must already be set.
// CreatedAt and UpdatedAt are stamped here.
func (s *Store) CreateAdmin(ctx context.Context, u *model.AdminUser) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	row, err := adminRowFromModel(u)
	if err != nil {
		return err
	}

	const q = `INSERT INTO admins
		(id, email, username, password_hash, role, access_level, permissions_json,
		 active, api_key_hash, api_key_prefix, created_at, updated_at, last_login)
		VALUES
		(:id, :email, :username, :password_hash, :role, :access_level, :permissions_json,
		 :active, :api_key_hash, :api_key_prefix, :created_at, :updated_at, :last_login)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return wrap("insert admin", err)
	}
	return nil
}

func (s *Store) getAdmin(ctx context.Context, op, where string, args ...interface{}) (*model.AdminUser, error) {
	var row adminRow
	if err := s.get(ctx, &row, "SELECT "+adminColumns+" FROM admins WHERE "+where, args...); err != nil {
		return nil, wrap(op, err)
	}
	return row.toModel()
}

// GetAdmin returns an admin by ID.
func (s *Store) GetAdmin(ctx context.Context, id string) (*model.AdminUser, error) {
	return s.getAdmin(ctx, "get admin", "id = ?", id)
}

// GetAdminByIdentifier returns the admin whose username or email equals identifier.
func (s *Store) GetAdminByIdentifier(ctx context.Context, identifier string) (*model.AdminUser, error) {
	return s.getAdmin(ctx, "get admin by identifier", "username = ? OR email = ?", identifier, identifier)
}

// GetAdminByAPIKeyHash returns the admin carrying the given inline key hash.
func (s *Store) GetAdminByAPIKeyHash(ctx context.Context, hash string) (*model.AdminUser, error) {
	return s.getAdmin(ctx, "get admin by api key", "api_key_hash = ?", hash)
}

// ListAdmins returns all admin accounts ordered by username.
func (s *Store) ListAdmins(ctx context.Context) ([]model.AdminUser, error) {
	var rows []adminRow
	if err := s.sel(ctx, &rows, "SELECT "+adminColumns+" FROM admins ORDER BY username"); err != nil {
		return nil, wrap("list admins", err)
	}
	out := make([]model.AdminUser, 0, len(rows))
	for _, r := range rows {
		u, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

// HasAnyAdmin reports whether at least one admin account exists. It gates
// seeding of the default master admin.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.get(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, wrap("count admins", err)
	}
	return count > 0, nil
}

// UpdateAdmin writes the profile fields of u: email, username, role, access
// level, permissions and active flag. Credentials have their own setters.
func (s *Store) UpdateAdmin(ctx context.Context, u *model.AdminUser) error {
	u.UpdatedAt = time.Now().UTC()
	row, err := adminRowFromModel(u)
	if err != nil {
		return err
	}

	const q = `UPDATE admins SET
		email = :email, username = :username, role = :role, access_level = :access_level,
		permissions_json = :permissions_json, active = :active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return wrap("update admin", err)
	}
	return s.requireRow(ctx, result, "admins", u.ID)
}

// UpdateAdminPassword replaces the stored bcrypt hash.
func (s *Store) UpdateAdminPassword(ctx context.Context, id, hash string) error {
	result, err := s.exec(ctx,
		"UPDATE admins SET password_hash = ?, updated_at = ? WHERE id = ?", hash, time.Now().UTC(), id)
	if err != nil {
		return wrap("update admin password", err)
	}
	return s.requireRow(ctx, result, "admins", id)
}

// SetAdminAPIKey replaces the inline convenience key hash and prefix.
func (s *Store) SetAdminAPIKey(ctx context.Context, id, hash, prefix string) error {
	result, err := s.exec(ctx,
		"UPDATE admins SET api_key_hash = ?, api_key_prefix = ?, updated_at = ? WHERE id = ?",
		hash, prefix, time.Now().UTC(), id)
	if err != nil {
		return wrap("set admin api key", err)
	}
	return s.requireRow(ctx, result, "admins", id)
}

// UpdateAdminLastLogin sets the last_login timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx, "UPDATE admins SET last_login = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return wrap("update admin last login", err)
	}
	return s.requireRow(ctx, result, "admins", id)
}

// DeleteAdmin removes an admin account. Registry keys owned by the account
// are removed with it.
func (s *Store) DeleteAdmin(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM admins WHERE id = ?", id)
	if err != nil {
		return wrap("delete admin", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete admin rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// requireRow returns ErrNotFound when an UPDATE matched nothing. MySQL reports
// changed rather than matched rows, so a zero count is confirmed with a lookup.
func (s *Store) requireRow(ctx context.Context, result sql.Result, table, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.get(ctx, &count, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id); err != nil {
		return wrap("check "+table, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
