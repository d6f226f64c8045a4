package service

import (
	"context"
	"fmt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// SeedParams describes the bootstrap master admin.
type SeedParams struct {
	Username string
	Email    string
	Password string
}

// SeedDefaultAdmin creates a master_admin account when the store holds no
// accounts at all. It reports whether an account was created.
func SeedDefaultAdmin(ctx context.Context, admins AdminStore, creds *CredentialStore, p SeedParams) (bool, error) {
	has, err := admins.HasAnyAdmin(ctx)
	if err != nil {
		return false, Classify(err)
	}
	if has {
		return false, nil
	}
	email, username, err := normalizeIdentity(p.Email, p.Username)
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	hash, err := creds.HashPassword(p.Password)
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	u := &model.AdminUser{
		ID:           newID(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         model.RoleMasterAdmin,
		AccessLevel:  model.AccessFull,
		Permissions:  model.NewScopeSet(),
		Active:       true,
	}
	if err := admins.CreateAdmin(ctx, u); err != nil {
		return false, Classify(err)
	}
	return true, nil
}
