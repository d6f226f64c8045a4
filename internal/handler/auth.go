package handler

import (
	"net/http"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	metrics *metrics.Metrics
}

// NewAuthHandler creates a new AuthHandler. m may be nil.
func NewAuthHandler(auth *service.AuthService, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{auth: auth, metrics: m}
}

// userPayload is the public view of an admin account.
type userPayload struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	AccessLevel  string     `json:"access_level"`
	Permissions  []string   `json:"permissions"`
	Scopes       []string   `json:"scopes,omitempty"`
	Active       bool       `json:"active"`
	APIKeyPrefix string     `json:"api_key_prefix,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func toUserPayload(u *model.AdminUser, scopes model.ScopeSet) userPayload {
	p := userPayload{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         string(u.Role),
		AccessLevel:  string(u.AccessLevel),
		Permissions:  u.Permissions.Strings(),
		Active:       u.Active,
		APIKeyPrefix: u.APIKeyPrefix,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
	if scopes != nil {
		p.Scopes = scopes.Strings()
	}
	return p
}

// loginRequest accepts the identifier under any of its common names.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (r loginRequest) identifier() string {
	switch {
	case r.Identifier != "":
		return r.Identifier
	case r.Username != "":
		return r.Username
	default:
		return r.Email
	}
}

// loginResponse is returned by both login endpoints. token and
// session_token carry the same value.
type loginResponse struct {
	Token        string      `json:"token"`
	SessionToken string      `json:"session_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
	SessionType  string      `json:"session_type"`
	User         userPayload `json:"user"`
}

func toLoginResponse(res *service.LoginResult) loginResponse {
	return loginResponse{
		Token:        res.Session.Token,
		SessionToken: res.Session.Token,
		ExpiresAt:    res.ExpiresAt(),
		SessionType:  string(res.Session.Type),
		User:         toUserPayload(res.User, res.Scopes),
	}
}

// Login authenticates with identifier and password and opens a session.
// POST /krapi/k1/auth/admin/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	res, err := h.auth.PasswordLogin(r.Context(), req.identifier(), req.Password, requestMeta(r))
	h.metrics.Login("password", err == nil)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toLoginResponse(res))
}

type apiLoginRequest struct {
	APIKey string `json:"api_key"`
}

// APILogin exchanges an API key for a session. The key may also come in the
// X-API-Key header.
// POST /krapi/k1/auth/admin/api-login
func (h *AuthHandler) APILogin(w http.ResponseWriter, r *http.Request) {
	var req apiLoginRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			WriteServiceError(w, r, err)
			return
		}
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-API-Key")
	}
	if req.APIKey == "" {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "api_key is required")
		return
	}
	res, err := h.auth.APIKeyLogin(r.Context(), req.APIKey, requestMeta(r))
	h.metrics.Login("api_key", err == nil)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toLoginResponse(res))
}

type validateRequest struct {
	SessionToken string `json:"session_token"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Type      string     `json:"type,omitempty"`
}

// ValidateSession reports whether a session token is usable. An unusable
// token, including one whose account was deactivated or deleted, is a normal
// answer, not an error.
// POST /krapi/k1/auth/session/validate
func (h *AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	sess, err := h.auth.ValidateSession(r.Context(), req.SessionToken)
	h.metrics.SessionCheck(err == nil)
	if err != nil {
		status, _ := StatusOf(err)
		if status != http.StatusUnauthorized {
			WriteServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, validateResponse{Valid: false})
		return
	}
	exp := sess.ExpiresAt
	writeOK(w, http.StatusOK, validateResponse{Valid: true, ExpiresAt: &exp, Type: string(sess.Type)})
}

// Logout consumes the bearer session. A missing token is 401; unknown or
// already consumed tokens succeed.
// POST /krapi/k1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		WriteServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Me returns the caller's account and session scopes.
// GET /krapi/k1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actx := service.AuthContextFrom(r.Context())
	u, scopes, err := h.auth.CurrentUser(actx)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	p := toUserPayload(u, scopes)
	writeOK(w, http.StatusOK, map[string]interface{}{
		"user":         p,
		"scopes":       p.Scopes,
		"session_type": string(actx.Session.Type),
		"expires_at":   actx.Session.ExpiresAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword replaces the caller's password after re-verifying it.
// POST /krapi/k1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "current_password and new_password are required")
		return
	}
	actx := service.AuthContextFrom(r.Context())
	if err := h.auth.ChangePassword(r.Context(), actx, req.CurrentPassword, req.NewPassword); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// RegenerateAPIKey replaces the caller's inline convenience key. The raw
// key is only ever returned here.
// POST /krapi/k1/auth/regenerate-api-key
func (h *AuthHandler) RegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	raw, err := h.auth.RegenerateInlineAPIKey(r.Context(), service.AuthContextFrom(r.Context()))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"api_key": raw})
}
