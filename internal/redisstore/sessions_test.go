package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(epoch)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:session:", time.Hour), mr
}

func testSession(hash string) *model.Session {
	pid := "p1"
	return &model.Session{
		ID:        "s-" + hash,
		TokenHash: hash,
		Type:      model.SessionProject,
		UserID:    "u1",
		ProjectID: &pid,
		Scopes:    model.NewScopeSet(model.ScopeDocumentsRead, model.ScopeDocumentsWrite),
		Metadata:  map[string]string{"ip": "10.0.0.1"},
		CreatedAt: epoch,
		ExpiresAt: epoch.Add(24 * time.Hour),
	}
}

func TestCreateAndTouch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("h1")))

	at := epoch.Add(time.Minute)
	got, err := s.TouchSession(ctx, "h1", at)
	require.NoError(t, err)

	assert.Equal(t, "s-h1", got.ID)
	assert.Equal(t, "h1", got.TokenHash)
	assert.Equal(t, model.SessionProject, got.Type)
	require.NotNil(t, got.ProjectID)
	assert.Equal(t, "p1", *got.ProjectID)
	assert.Nil(t, got.APIKeyID)
	assert.Equal(t, []string{"documents:read", "documents:write"}, got.Scopes.Strings())
	assert.Equal(t, "10.0.0.1", got.Metadata["ip"])
	assert.True(t, got.ExpiresAt.Equal(epoch.Add(24*time.Hour)))
	assert.False(t, got.Consumed)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, got.LastSeenAt.Equal(at))
}

func TestProjectListRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	unrestricted := testSession("h-nil")
	multi := testSession("h-multi")
	multi.ProjectID = nil
	multi.ProjectIDs = []string{"p1", "p2"}
	none := testSession("h-none")
	none.ProjectIDs = []string{}
	for _, sess := range []*model.Session{unrestricted, multi, none} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	got, err := s.TouchSession(ctx, "h-nil", epoch)
	require.NoError(t, err)
	assert.Nil(t, got.ProjectIDs)

	got, err = s.TouchSession(ctx, "h-multi", epoch)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, got.ProjectIDs)
	assert.Nil(t, got.ProjectID)

	got, err = s.TouchSession(ctx, "h-none", epoch)
	require.NoError(t, err)
	require.NotNil(t, got.ProjectIDs)
	assert.Empty(t, got.ProjectIDs)
	assert.False(t, got.AllowsProject("p1"))
}

func TestRetiredScopesAreDropped(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("h1")))

	mr.HSet("test:session:h1", "data",
		`{"id":"s-h1","type":"admin","user_id":"u1","project_ids":null,"scopes":["documents:read","legacy:export"],`+
			`"created_at":"2026-03-01T09:00:00Z","expires_at":"2026-03-02T09:00:00Z"}`)

	got, err := s.TouchSession(ctx, "h1", epoch)
	require.NoError(t, err)
	assert.Equal(t, []string{"documents:read"}, got.Scopes.Strings())
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("h1")))
	err := s.CreateSession(ctx, testSession("h1"))
	assert.ErrorIs(t, err, config.ErrConflict)
}

func TestTouchUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.TouchSession(context.Background(), "missing", epoch)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestConsumeIsCompareAndSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("h1")))

	first := epoch.Add(time.Minute)
	require.NoError(t, s.ConsumeSession(ctx, "h1", first))
	require.NoError(t, s.ConsumeSession(ctx, "h1", first.Add(time.Hour)))
	require.NoError(t, s.ConsumeSession(ctx, "unknown", first))

	got, err := s.TouchSession(ctx, "h1", first.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	require.NotNil(t, got.ConsumedAt)
	assert.True(t, got.ConsumedAt.Equal(first), "second consume must not move consumed_at")
	assert.Nil(t, got.LastSeenAt, "touch must not stamp a consumed session")
}

func TestKeyDroppedAfterGrace(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("h1")))

	mr.FastForward(24*time.Hour + 59*time.Minute)
	_, err := s.TouchSession(ctx, "h1", epoch)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = s.TouchSession(ctx, "h1", epoch)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestPurgeSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	old := testSession("old")
	old.ExpiresAt = epoch.Add(time.Hour)
	require.NoError(t, s.CreateSession(ctx, old))
	require.NoError(t, s.CreateSession(ctx, testSession("live")))
	require.NoError(t, s.CreateSession(ctx, testSession("gone")))
	require.NoError(t, s.ConsumeSession(ctx, "gone", epoch))

	n, err := s.PurgeSessions(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.TouchSession(ctx, "live", epoch)
	assert.NoError(t, err)
	_, err = s.TouchSession(ctx, "old", epoch)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestSessionManagerOnRedis(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	clock := service.NewFakeClock(epoch)
	m := service.NewSessionManager(s, clock, 24*time.Hour)

	sess, err := m.Create(ctx, service.CreateSessionParams{
		UserID: "u1",
		Type:   model.SessionAdmin,
		Scopes: model.NewScopeSet(model.ScopeAdminRead),
	})
	require.NoError(t, err)

	clock.Set(sess.ExpiresAt.Add(-time.Nanosecond))
	_, err = m.Validate(ctx, sess.Token)
	require.NoError(t, err)

	clock.Set(sess.ExpiresAt)
	_, err = m.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, service.ErrInvalidOrExpiredSession)

	clock.Set(epoch)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Consume(ctx, sess.Token)
		}()
	}
	wg.Wait()
	_, err = m.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, service.ErrInvalidOrExpiredSession)
}

func TestConnectivityErrorsClassify(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := New(client, "", 0)
	mr.Close()

	_, err := s.TouchSession(context.Background(), "h", epoch)
	require.Error(t, err)
	assert.ErrorIs(t, service.Classify(err), service.ErrStoreUnavailable)
}
