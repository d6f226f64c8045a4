package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, got)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, bad := range []string{"has space", strings.Repeat("a", 200), "tab\tinside"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got == bad || len(got) != 36 {
			t.Errorf("client id %q: got response id %q, want fresh uuid", bad, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate / RequireScope middleware tests
// ---------------------------------------------------------------------------

type authEnv struct {
	guard *service.Guard
	auth  *service.AuthService
	store *config.Store
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := service.SystemClock()
	creds, err := service.NewCredentialStore(store, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	sessions := service.NewSessionManager(store, clock, time.Hour)
	guard := service.NewGuard(sessions, creds)
	auth := service.NewAuthService(service.AuthDeps{
		Credentials: creds,
		Keys:        service.NewAPIKeyRegistry(store, clock, nil),
		Sessions:    sessions,
		Guard:       guard,
		Admins:      store,
		Clock:       clock,
	})
	return &authEnv{guard: guard, auth: auth, store: store}
}

func (e *authEnv) token(t *testing.T, username string, role model.Role) string {
	t.Helper()
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw-"+username), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.AdminUser{
		ID:           "id-" + username,
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		AccessLevel:  model.DefaultAccessLevel(role),
		Permissions:  model.NewScopeSet(),
		Active:       true,
	}
	if err := e.store.CreateAdmin(ctx, u); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	res, err := e.auth.PasswordLogin(ctx, username, "pw-"+username, nil)
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	return res.Session.Token
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) model.Envelope {
	t.Helper()
	var env model.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return env
}

func TestAuthenticateAttachesContext(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.token(t, "alice", model.RoleAdmin)

	var got *service.AuthContext
	h := Authenticate(env.guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = service.AuthContextFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}
	if got == nil || got.Principal.Username != "alice" {
		t.Fatalf("got auth context %+v, want alice", got)
	}
	if !got.Has(model.ScopeAdminWrite) {
		t.Errorf("admin session should hold admin:write")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.token(t, "bob", model.RoleAdmin)
	if err := env.auth.Logout(context.Background(), tok); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	cases := map[string]string{
		"missing":    "",
		"wrong type": "Basic Ym9iOnB3",
		"unknown":    "Bearer not-a-session",
		"logged out": "Bearer " + tok,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			h := Authenticate(env.guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			req := httptest.NewRequest("GET", "/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if called {
				t.Fatal("next handler should not run")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want 401", rr.Code)
			}
			if e := decodeEnvelope(t, rr); e.Success || e.Code == "" {
				t.Errorf("got envelope %+v, want failure with code", e)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	env := newAuthEnv(t)
	admin := env.token(t, "carol", model.RoleAdmin)
	dev := env.token(t, "dave", model.RoleDeveloper)

	h := Authenticate(env.guard)(RequireScope(env.guard, model.ScopeAdminWrite)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	for _, tc := range []struct {
		token string
		want  int
	}{
		{admin, http.StatusNoContent},
		{dev, http.StatusForbidden},
	} {
		req := httptest.NewRequest("POST", "/admin/users", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Errorf("got status %d, want %d", rr.Code, tc.want)
		}
	}
}

func TestRequireScopeWithoutAuthenticate(t *testing.T) {
	env := newAuthEnv(t)
	h := RequireScope(env.guard, model.ScopeAdminRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not run")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/changelog", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Logger / RateLimit middleware tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Logger(slog.New(slog.NewTextHandler(io.Discard, nil)), m))
	r.Get("/admin/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/admin/users/abc", nil))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()
	want := `krapi_http_requests_total{method="GET",route="/admin/users/{id}",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("metrics missing %s", want)
	}
	if strings.Contains(body, "/admin/users/abc") {
		t.Errorf("raw path leaked into labels")
	}
}

func TestLoginRateLimit(t *testing.T) {
	h := LoginRateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/admin/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want 429", last.Code)
	}
	if e := decodeEnvelope(t, last); e.Code != "RATE_LIMITED" {
		t.Errorf("got code %q, want RATE_LIMITED", e.Code)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest("POST", "/auth/admin/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("got status %d for second client, want 200", rr.Code)
	}
}

func TestLoginRateLimitDisabled(t *testing.T) {
	h := LoginRateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/auth/admin/login", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d", i, rr.Code)
		}
	}
}
