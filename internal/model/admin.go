package model

import "time"

// AdminUser is an administrative account for the platform dashboards.
// Passwords are stored as bcrypt hashes. The inline convenience API key is
// stored as a SHA-256 hash with a short display prefix.
type AdminUser struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Username     string      `json:"username"`
	PasswordHash string      `json:"-"` // bcrypt hash, never expose
	Role         Role        `json:"role"`
	AccessLevel  AccessLevel `json:"access_level"`
	Permissions  ScopeSet    `json:"permissions"`
	Active       bool        `json:"active"`
	APIKeyHash   string      `json:"-"` // SHA-256 of the inline key, never expose
	APIKeyPrefix string      `json:"api_key_prefix,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LastLogin    *time.Time  `json:"last_login,omitempty"`
}

// IsMaster reports whether the account holds the master_admin role.
func (u *AdminUser) IsMaster() bool {
	return u.Role == RoleMasterAdmin
}
