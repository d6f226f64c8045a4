package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.addAdmin(t, "alice", model.RoleAdmin, "correct-horse")

	got, err := env.creds.Authenticate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate(username): %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got id %q, want %q", got.ID, u.ID)
	}
	if _, err := env.creds.Authenticate(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Authenticate(email): %v", err)
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.addAdmin(t, "alice", model.RoleAdmin, "correct-horse")
	inactive := env.addAdmin(t, "bob", model.RoleAdmin, "correct-horse")
	inactive.Active = false
	if err := env.store.UpdateAdmin(ctx, inactive); err != nil {
		t.Fatalf("UpdateAdmin: %v", err)
	}

	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{"unknown identifier", "mallory", "correct-horse"},
		{"wrong password", u.Username, "wrong-horse"},
		{"inactive account", "bob", "correct-horse"},
	}
	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.creds.Authenticate(ctx, tt.identifier, tt.password)
			if err != ErrInvalidCredentials {
				t.Fatalf("got %v, want exactly ErrInvalidCredentials", err)
			}
			messages = append(messages, err.Error())
		})
	}
	for _, m := range messages {
		if m != messages[0] {
			t.Errorf("error messages differ: %q vs %q", m, messages[0])
		}
	}
}

func TestHashPassword(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.creds.HashPassword("short"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
	hash, err := env.creds.HashPassword("long-enough")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "long-enough" || !strings.HasPrefix(hash, "$2") {
		t.Errorf("got %q, want a bcrypt hash", hash)
	}
	if !env.creds.VerifyPassword(&model.AdminUser{PasswordHash: hash}, "long-enough") {
		t.Error("VerifyPassword rejected the right password")
	}
}

func TestHashPasswordRejectsOverBcryptLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.creds.HashPassword(strings.Repeat("a", MaxPasswordLength)); err != nil {
		t.Errorf("%d bytes: got %v, want nil", MaxPasswordLength, err)
	}
	if _, err := env.creds.HashPassword(strings.Repeat("a", 80)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("80 bytes: got %v, want ErrInvalidInput", err)
	}
	// Counted in bytes: 25 three-byte runes.
	if _, err := env.creds.HashPassword(strings.Repeat("€", 25)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("75 byte multibyte password: got %v, want ErrInvalidInput", err)
	}

	seeded, err := SeedDefaultAdmin(ctx, env.store, env.creds, SeedParams{
		Username: "admin", Email: "admin@krapi.local", Password: strings.Repeat("s", 100),
	})
	if !errors.Is(err, ErrInvalidInput) || seeded {
		t.Errorf("seed: got (%v, %v), want (false, ErrInvalidInput)", seeded, err)
	}

	env.addAdmin(t, "alice", model.RoleAdmin, "password-1")
	actx, _ := env.login(t, "alice", "password-1")
	if err := env.auth.ChangePassword(ctx, actx, "password-1", strings.Repeat("n", 73)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("change password: got %v, want ErrInvalidInput", err)
	}
}

func TestLookupByInlineAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.creds.LookupByInlineAPIKey(ctx, "krapi_nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := env.creds.LookupByInlineAPIKey(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty key: got %v, want ErrNotFound", err)
	}
	if _, err := env.creds.LookupByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSeedDefaultAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := SeedParams{Username: "admin", Email: "admin@krapi.local", Password: "admin123"}

	created, err := SeedDefaultAdmin(ctx, env.store, env.creds, p)
	if err != nil {
		t.Fatalf("SeedDefaultAdmin: %v", err)
	}
	if !created {
		t.Fatal("expected seed on an empty store")
	}
	again, err := SeedDefaultAdmin(ctx, env.store, env.creds, p)
	if err != nil {
		t.Fatalf("second SeedDefaultAdmin: %v", err)
	}
	if again {
		t.Error("seed must not run twice")
	}

	res, err := env.auth.PasswordLogin(ctx, "admin", "admin123", nil)
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if res.Session.Token == "" {
		t.Error("expected a non-empty token")
	}
	if res.User.Role != model.RoleMasterAdmin {
		t.Errorf("got role %q, want master_admin", res.User.Role)
	}
}
