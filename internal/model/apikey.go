package model

import (
	"fmt"
	"time"
)

// KeyType classifies a registry API key by the privilege it can exchange for.
type KeyType string

const (
	KeyTypeMaster  KeyType = "master"
	KeyTypeAdmin   KeyType = "admin"
	KeyTypeProject KeyType = "project"
)

// Valid reports whether k is a known key type.
func (k KeyType) Valid() bool {
	switch k {
	case KeyTypeMaster, KeyTypeAdmin, KeyTypeProject:
		return true
	}
	return false
}

// ParseKeyType converts a string into a known KeyType.
func ParseKeyType(v string) (KeyType, error) {
	k := KeyType(v)
	if !k.Valid() {
		return "", fmt.Errorf("unknown api key type %q", v)
	}
	return k, nil
}

// APIKey is a long-lived registry credential with attached scopes and an
// optional expiry. The raw key is never stored; only a SHA-256 hash and a
// short prefix for identification are persisted.
type APIKey struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`          // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix"` // First 12 chars for identification
	Type       KeyType    `json:"type"`
	Scopes     ScopeSet   `json:"scopes"`
	ProjectIDs []string   `json:"project_ids"` // nil means unrestricted
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	UseCount   int64      `json:"use_count"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Usable reports whether the key may be used at instant now. Expiry is
// exclusive: a key is no longer usable once now reaches ExpiresAt.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
