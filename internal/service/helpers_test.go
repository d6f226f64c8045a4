package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []model.ChangelogEntry
}

func (r *recordingAuditor) Record(_ context.Context, e model.ChangelogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recordingAuditor) all() []model.ChangelogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChangelogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

type testEnv struct {
	store    *config.Store
	clock    *FakeClock
	creds    *CredentialStore
	keys     *APIKeyRegistry
	sessions *SessionManager
	guard    *Guard
	auth     *AuthService
	admins   *AdminManager
	audit    *recordingAuditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := NewFakeClock(testEpoch)
	creds, err := NewCredentialStore(store, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	keys := NewAPIKeyRegistry(store, clock, nil)
	sessions := NewSessionManager(store, clock, 24*time.Hour)
	guard := NewGuard(sessions, creds)
	audit := &recordingAuditor{}

	return &testEnv{
		store:    store,
		clock:    clock,
		creds:    creds,
		keys:     keys,
		sessions: sessions,
		guard:    guard,
		audit:    audit,
		admins:   NewAdminManager(store, creds, guard, audit, clock),
		auth: NewAuthService(AuthDeps{
			Credentials: creds,
			Keys:        keys,
			Sessions:    sessions,
			Guard:       guard,
			Admins:      store,
			Audit:       audit,
			Clock:       clock,
		}),
	}
}

// addAdmin writes an account straight to the store, bypassing the guard.
func (e *testEnv) addAdmin(t *testing.T, username string, role model.Role, password string) *model.AdminUser {
	t.Helper()
	hash, err := e.creds.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &model.AdminUser{
		ID:           newID(),
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		AccessLevel:  model.DefaultAccessLevel(role),
		Permissions:  model.NewScopeSet(),
		Active:       true,
	}
	if err := e.store.CreateAdmin(context.Background(), u); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return u
}

// login opens a password session and resolves it the way the middleware does.
func (e *testEnv) login(t *testing.T, username, password string) (*AuthContext, string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.auth.PasswordLogin(ctx, username, password, nil)
	if err != nil {
		t.Fatalf("PasswordLogin(%s): %v", username, err)
	}
	actx, err := e.guard.Authenticate(ctx, res.Session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return actx, res.Session.Token
}
