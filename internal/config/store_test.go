package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAdmin(t *testing.T, s *Store, id, username string) *model.AdminUser {
	t.Helper()
	u := &model.AdminUser{
		ID:           id,
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: "$2a$10$hash",
		Role:         model.RoleAdmin,
		AccessLevel:  model.AccessFull,
		Permissions:  model.NewScopeSet(model.ScopeEmailSend),
		Active:       true,
	}
	if err := s.CreateAdmin(context.Background(), u); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return u
}

func TestAdminCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Fatal("expected no admins in a fresh store")
	}

	u := seedAdmin(t, s, "a1", "alice")
	if u.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}

	byName, err := s.GetAdminByIdentifier(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAdminByIdentifier(username): %v", err)
	}
	byEmail, err := s.GetAdminByIdentifier(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetAdminByIdentifier(email): %v", err)
	}
	if byName.ID != "a1" || byEmail.ID != "a1" {
		t.Errorf("got ids %q and %q, want a1", byName.ID, byEmail.ID)
	}
	if !byName.Permissions.Contains(model.ScopeEmailSend) {
		t.Errorf("permissions not round-tripped: %v", byName.Permissions.Strings())
	}

	u.Role = model.RoleDeveloper
	u.Active = false
	if err := s.UpdateAdmin(ctx, u); err != nil {
		t.Fatalf("UpdateAdmin: %v", err)
	}
	got, err := s.GetAdmin(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAdmin: %v", err)
	}
	if got.Role != model.RoleDeveloper || got.Active {
		t.Errorf("got role %q active %v, want developer/false", got.Role, got.Active)
	}

	if err := s.UpdateAdminPassword(ctx, "a1", "$2a$10$other"); err != nil {
		t.Fatalf("UpdateAdminPassword: %v", err)
	}
	got, _ = s.GetAdmin(ctx, "a1")
	if got.PasswordHash != "$2a$10$other" {
		t.Errorf("got hash %q, want updated hash", got.PasswordHash)
	}

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := s.UpdateAdminLastLogin(ctx, "a1", at); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got, _ = s.GetAdmin(ctx, "a1")
	if got.LastLogin == nil || !got.LastLogin.Equal(at) {
		t.Errorf("got last login %v, want %v", got.LastLogin, at)
	}

	list, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d admins, want 1", len(list))
	}

	if err := s.DeleteAdmin(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAdmin: %v", err)
	}
	if _, err := s.GetAdmin(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := s.DeleteAdmin(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestAdminUniqueConflict(t *testing.T) {
	s := newTestStore(t)
	seedAdmin(t, s, "a1", "alice")

	dup := &model.AdminUser{
		ID: "a2", Email: "alice@example.com", Username: "alice2",
		PasswordHash: "x", Role: model.RoleAdmin, AccessLevel: model.AccessFull, Active: true,
	}
	err := s.CreateAdmin(context.Background(), dup)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestAdminInlineAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAdmin(t, s, "a1", "alice")
	seedAdmin(t, s, "a2", "bob") // two accounts without inline keys must coexist

	hash := HashSecret("krapi_inline")
	if err := s.SetAdminAPIKey(ctx, "a1", hash, "krapi_inlin"); err != nil {
		t.Fatalf("SetAdminAPIKey: %v", err)
	}
	got, err := s.GetAdminByAPIKeyHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetAdminByAPIKeyHash: %v", err)
	}
	if got.ID != "a1" || got.APIKeyPrefix != "krapi_inlin" {
		t.Errorf("got id %q prefix %q", got.ID, got.APIKeyPrefix)
	}
	if err := s.SetAdminAPIKey(ctx, "missing", hash, "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAdmin(t, s, "a1", "alice")

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	key := &model.APIKey{
		ID:         "k1",
		OwnerID:    "a1",
		Name:       "ci",
		KeyHash:    HashSecret("krapi_abc"),
		KeyPrefix:  "krapi_abc",
		Type:       model.KeyTypeProject,
		Scopes:     model.NewScopeSet(model.ScopeProjectsRead),
		ProjectIDs: []string{"p1", "p2"},
		ExpiresAt:  &expires,
		IsActive:   true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, HashSecret("krapi_abc"))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.Type != model.KeyTypeProject || len(got.ProjectIDs) != 2 {
		t.Errorf("got type %q projects %v", got.Type, got.ProjectIDs)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("got expires %v, want %v", got.ExpiresAt, expires)
	}

	unrestricted := &model.APIKey{
		ID: "k2", OwnerID: "a1", Name: "all", KeyHash: HashSecret("krapi_def"), KeyPrefix: "krapi_def",
		Type: model.KeyTypeAdmin, Scopes: model.NewScopeSet(model.ScopeAdminRead), IsActive: true,
	}
	if err := s.CreateAPIKey(ctx, unrestricted); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	got2, _ := s.GetAPIKey(ctx, "k2")
	if got2.ProjectIDs != nil {
		t.Errorf("got project ids %v, want nil", got2.ProjectIDs)
	}

	list, err := s.ListAPIKeys(ctx, "a1")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d keys, want 2", len(list))
	}

	if err := s.RevokeAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("second RevokeAPIKey should be idempotent: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, "k1")
	if got.IsActive {
		t.Error("expected key to be inactive after revoke")
	}
	if err := s.RevokeAPIKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	// Keys go with their owner.
	if err := s.DeleteAdmin(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAdmin: %v", err)
	}
	if _, err := s.GetAPIKey(ctx, "k2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after owner delete", err)
	}
}

func TestTouchAPIKeyConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAdmin(t, s, "a1", "alice")
	key := &model.APIKey{
		ID: "k1", OwnerID: "a1", Name: "n", KeyHash: HashSecret("x"), KeyPrefix: "x",
		Type: model.KeyTypeAdmin, Scopes: model.NewScopeSet(), IsActive: true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.TouchAPIKey(ctx, "k1", time.Now()); err != nil {
				t.Errorf("TouchAPIKey: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetAPIKey(ctx, "k1")
	if got.UseCount != n {
		t.Errorf("got use count %d, want %d", got.UseCount, n)
	}
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	project := "p1"

	sess := &model.Session{
		ID:        "s1",
		TokenHash: HashSecret("tok"),
		Type:      model.SessionProject,
		UserID:    "a1",
		ProjectID: &project,
		Scopes:    model.NewScopeSet(model.ScopeDocumentsRead),
		Metadata:  map[string]string{"ip": "127.0.0.1"},
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.TouchSession(ctx, sess.TokenHash, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(now.Add(time.Hour)) {
		t.Errorf("got last seen %v", got.LastSeenAt)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("touch moved expiry to %v", got.ExpiresAt)
	}
	if got.ProjectID == nil || *got.ProjectID != "p1" || got.Metadata["ip"] != "127.0.0.1" {
		t.Errorf("session fields not round-tripped: %+v", got)
	}

	if err := s.ConsumeSession(ctx, sess.TokenHash, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("ConsumeSession: %v", err)
	}
	if err := s.ConsumeSession(ctx, sess.TokenHash, now.Add(3*time.Hour)); err != nil {
		t.Fatalf("second ConsumeSession: %v", err)
	}
	if err := s.ConsumeSession(ctx, HashSecret("unknown"), now); err != nil {
		t.Fatalf("ConsumeSession(unknown): %v", err)
	}

	got, err = s.TouchSession(ctx, sess.TokenHash, now.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("TouchSession after consume: %v", err)
	}
	if !got.Consumed {
		t.Error("expected consumed session")
	}
	if got.ConsumedAt == nil || !got.ConsumedAt.Equal(now.Add(2*time.Hour)) {
		t.Errorf("consumed_at moved by second consume: %v", got.ConsumedAt)
	}
	if !got.LastSeenAt.Equal(now.Add(time.Hour)) {
		t.Errorf("consumed session was touched: %v", got.LastSeenAt)
	}

	if _, err := s.TouchSession(ctx, HashSecret("unknown"), now); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSessionProjectListRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		projects []string
	}{
		{"unrestricted", nil},
		{"two projects", []string{"p1", "p2"}},
		{"no projects", []string{}},
	}
	for i, tt := range tests {
		hash := HashSecret(fmt.Sprintf("tok-%d", i))
		sess := &model.Session{
			ID:         fmt.Sprintf("s%d", i),
			TokenHash:  hash,
			Type:       model.SessionProject,
			UserID:     "a1",
			ProjectIDs: tt.projects,
			Scopes:     model.NewScopeSet(model.ScopeDocumentsRead),
			Metadata:   map[string]string{},
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("%s: CreateSession: %v", tt.name, err)
		}
		got, err := s.TouchSession(ctx, hash, now)
		if err != nil {
			t.Fatalf("%s: TouchSession: %v", tt.name, err)
		}
		if (got.ProjectIDs == nil) != (tt.projects == nil) {
			t.Errorf("%s: got project ids %#v, want %#v", tt.name, got.ProjectIDs, tt.projects)
			continue
		}
		if fmt.Sprint(got.ProjectIDs) != fmt.Sprint(tt.projects) {
			t.Errorf("%s: got project ids %v, want %v", tt.name, got.ProjectIDs, tt.projects)
		}
	}
}

func TestStoredRowsDropRetiredScopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAdmin(t, s, "a1", "alice")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	key := &model.APIKey{
		ID: "k1", OwnerID: "a1", Name: "ci",
		KeyHash: HashSecret("krapi_abc"), KeyPrefix: "krapi_abc",
		Type: model.KeyTypeProject, Scopes: model.NewScopeSet(model.ScopeProjectsRead),
		IsActive: true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	sess := &model.Session{
		ID: "s1", TokenHash: HashSecret("tok"), Type: model.SessionAdmin, UserID: "a1",
		Scopes: model.NewScopeSet(model.ScopeAdminRead), Metadata: map[string]string{},
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	retired := `["legacy:export","projects:read","admin:read","email:send"]`
	for _, q := range []string{
		`UPDATE admins SET permissions_json = ? WHERE id = 'a1'`,
		`UPDATE api_keys SET scopes_json = ? WHERE id = 'k1'`,
		`UPDATE sessions SET scopes_json = ? WHERE id = 's1'`,
	} {
		if _, err := s.exec(ctx, q, retired); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	want := "[admin:read email:send projects:read]"

	u, err := s.GetAdmin(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAdmin: %v", err)
	}
	if got := fmt.Sprint(u.Permissions.Strings()); got != want {
		t.Errorf("admin permissions: got %s, want %s", got, want)
	}
	k, err := s.GetAPIKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got := fmt.Sprint(k.Scopes.Strings()); got != want {
		t.Errorf("key scopes: got %s, want %s", got, want)
	}
	got, err := s.TouchSession(ctx, sess.TokenHash, now)
	if err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	if gotScopes := fmt.Sprint(got.Scopes.Strings()); gotScopes != want {
		t.Errorf("session scopes: got %s, want %s", gotScopes, want)
	}
}

func TestPurgeSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, exp := range []time.Time{base.Add(-48 * time.Hour), base.Add(48 * time.Hour)} {
		sess := &model.Session{
			ID: fmt.Sprintf("s%d", i), TokenHash: HashSecret(fmt.Sprintf("t%d", i)),
			Type: model.SessionAdmin, UserID: "a1", CreatedAt: exp.Add(-24 * time.Hour), ExpiresAt: exp,
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	n, err := s.PurgeSessions(ctx, base)
	if err != nil {
		t.Fatalf("PurgeSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d purged, want 1", n)
	}
	if _, err := s.GetSessionByTokenHash(ctx, HashSecret("t1")); err != nil {
		t.Errorf("live session purged: %v", err)
	}
}

func TestChangelog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := []model.ChangelogEntry{
		{ID: "c1", EntityType: "admin_user", EntityID: "a1", Action: model.ActionCreated, PerformedBy: "root", Timestamp: base},
		{ID: "c2", EntityType: "admin_user", EntityID: "a1", Action: model.ActionUpdated, PerformedBy: "root", Timestamp: base.Add(time.Minute),
			Changes: map[string]interface{}{"role": "developer"}},
		{ID: "c3", EntityType: "api_key", EntityID: "k1", Action: model.ActionCreated, PerformedBy: "a1", Timestamp: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := s.AppendChangelog(ctx, &entries[i]); err != nil {
			t.Fatalf("AppendChangelog: %v", err)
		}
	}
	if err := s.AppendChangelog(ctx, &entries[0]); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate append: got %v, want ErrConflict", err)
	}

	all, err := s.ListChangelog(ctx, ChangelogFilter{})
	if err != nil {
		t.Fatalf("ListChangelog: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c3" {
		t.Fatalf("got %d entries, first %q; want 3 newest first", len(all), all[0].ID)
	}

	admins, _ := s.ListChangelog(ctx, ChangelogFilter{EntityType: "admin_user", EntityID: "a1", Limit: 1})
	if len(admins) != 1 || admins[0].ID != "c2" {
		t.Fatalf("filtered list: got %+v", admins)
	}
	if admins[0].Changes["role"] != "developer" {
		t.Errorf("changes not round-tripped: %v", admins[0].Changes)
	}
}

func TestDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dl := &model.DeadLetter{
		ID:        "d1",
		Entry:     model.ChangelogEntry{ID: "c1", EntityType: "api_key", EntityID: "k1", Action: model.ActionDeleted},
		LastError: "connection refused",
		Attempts:  5,
	}
	if err := s.AddDeadLetter(ctx, dl); err != nil {
		t.Fatalf("AddDeadLetter: %v", err)
	}
	list, err := s.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(list) != 1 || list[0].Entry.EntityID != "k1" || list[0].Attempts != 5 {
		t.Fatalf("got %+v", list)
	}
	if err := s.DeleteDeadLetter(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDeadLetter: %v", err)
	}
	list, _ = s.ListDeadLetters(ctx)
	if len(list) != 0 {
		t.Errorf("got %d dead letters, want 0", len(list))
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	seedAdmin(t, s, "a1", "alice")
	s.Close()

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetAdmin(context.Background(), "a1"); err != nil {
		t.Fatalf("GetAdmin after reopen: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "krapi.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), StoreOptions{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), StoreOptions{Driver: DriverPostgres}); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{fmt.Errorf("get admin: %w", errors.New("read: connection reset by peer")), true},
		{errors.New("sql: database is closed"), true},
		{errors.New("UNIQUE constraint failed: admins.email"), false},
		{ErrNotFound, false},
	}
	for _, tt := range tests {
		if got := IsConnectivityError(tt.err); got != tt.want {
			t.Errorf("IsConnectivityError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
