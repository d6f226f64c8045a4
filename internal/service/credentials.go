package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// MinPasswordLength is the shortest password accepted on create or change.
const MinPasswordLength = 8

// MaxPasswordLength is bcrypt's input limit in bytes.
const MaxPasswordLength = 72

// CredentialStore verifies admin passwords and resolves principals.
type CredentialStore struct {
	admins    AdminStore
	cost      int
	dummyHash []byte
}

// NewCredentialStore creates a credential store hashing with the given bcrypt
// cost. Costs outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewCredentialStore(admins AdminStore, cost int) (*CredentialStore, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// Compared against when the identifier is unknown so both failure paths
	// pay for one bcrypt comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte("krapi-unknown-identifier"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &CredentialStore{admins: admins, cost: cost, dummyHash: dummy}, nil
}

// Authenticate returns the active admin whose username or email is identifier
// and whose password matches. Unknown, inactive and mismatched all fail with
// ErrInvalidCredentials after exactly one bcrypt comparison.
func (c *CredentialStore) Authenticate(ctx context.Context, identifier, password string) (*model.AdminUser, error) {
	u, err := c.admins.GetAdminByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return nil, Classify(err)
		}
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if !c.VerifyPassword(u, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// VerifyPassword reports whether password matches the stored hash of u.
func (c *CredentialStore) VerifyPassword(u *model.AdminUser, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword returns a bcrypt hash of password.
func (c *CredentialStore) HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", invalid("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return "", invalid("password must be at most %d bytes", MaxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// LookupByID returns the admin with the given id.
func (c *CredentialStore) LookupByID(ctx context.Context, id string) (*model.AdminUser, error) {
	u, err := c.admins.GetAdmin(ctx, id)
	if err != nil {
		return nil, Classify(err)
	}
	return u, nil
}

// LookupByInlineAPIKey returns the admin whose convenience key is rawKey.
func (c *CredentialStore) LookupByInlineAPIKey(ctx context.Context, rawKey string) (*model.AdminUser, error) {
	if rawKey == "" {
		return nil, ErrNotFound
	}
	u, err := c.admins.GetAdminByAPIKeyHash(ctx, config.HashSecret(rawKey))
	if err != nil {
		return nil, Classify(err)
	}
	return u, nil
}
