// Package client is a Go client for the Krapi auth HTTP API.
//
// After Login or APILogin the client remembers the session token and sends
// it as a bearer token on every request except the credential exchange
// endpoints, which must never carry one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/openapi"
)

// ErrNoSession is returned by calls that need a session when none is held.
var ErrNoSession = errors.New("client: not logged in")

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("krapi: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Config holds configuration for the client.
type Config struct {
	// BaseURL includes the API base path, e.g. http://localhost:3470/krapi/k1.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Retry bounds how long idempotent reads are retried while the server
	// answers 503. Zero disables retries.
	Retry time.Duration
}

// Client talks to one Krapi server.
type Client struct {
	base  string
	http  *http.Client
	retry time.Duration

	mu    sync.RWMutex
	token string
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), http: hc, retry: cfg.Retry}, nil
}

// Token returns the held session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the held session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// do sends one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = b
	}

	op := func() error {
		err := c.roundTrip(ctx, method, path, body, out)
		if method != http.MethodGet || !IsStatus(err, http.StatusServiceUnavailable) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		return err
	}
	if c.retry <= 0 {
		return unwrapPermanent(op())
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retry
	return unwrapPermanent(backoff.Retry(op, backoff.WithContext(b, ctx)))
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" && !openapi.IsPublicPath(pathOnly(path)) {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("client: decode %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("client: decode data: %w", err)
		}
	}
	return nil
}

func pathOnly(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// User is the public view of an admin account.
type User struct {
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

// LoginResult is returned by both login calls.
type LoginResult struct {
	Token        string    `json:"token"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionType  string    `json:"session_type"`
	User         User      `json:"user"`
}

// SessionStatus is the answer of ValidateSession.
type SessionStatus struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Type      string     `json:"type,omitempty"`
}

// Me describes the caller.
type Me struct {
	User        User      `json:"user"`
	Scopes      []string  `json:"scopes"`
	SessionType string    `json:"session_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateAdminRequest describes a new admin account.
type CreateAdminRequest struct {
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	AccessLevel string   `json:"access_level,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// UpdateAdminRequest changes the non-nil fields of an account.
type UpdateAdminRequest struct {
	Email       *string   `json:"email,omitempty"`
	Username    *string   `json:"username,omitempty"`
	Role        *string   `json:"role,omitempty"`
	AccessLevel *string   `json:"access_level,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

// CreateKeyRequest describes a new registry key.
type CreateKeyRequest struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	OwnerID    string     `json:"owner_id,omitempty"`
	Scopes     []string   `json:"scopes,omitempty"`
	ProjectIDs []string   `json:"project_ids,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// CreatedKey carries the raw key, which the server only returns once.
type CreatedKey struct {
	APIKey string       `json:"api_key"`
	Key    model.APIKey `json:"key"`
}

// ChangelogQuery filters ListChangelog.
type ChangelogQuery struct {
	EntityType  string
	EntityID    string
	PerformedBy string
	Limit       int
}

type list[T any] struct {
	Resource []T `json:"resource"`
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Login opens a password session and keeps its token.
func (c *Client) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/admin/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// APILogin exchanges an API key for a session and keeps its token.
func (c *Client) APILogin(ctx context.Context, apiKey string) (*LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/admin/api-login", map[string]string{"api_key": apiKey}, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// ValidateSession checks token, or the held token when token is empty.
func (c *Client) ValidateSession(ctx context.Context, token string) (*SessionStatus, error) {
	if token == "" {
		token = c.Token()
	}
	var st SessionStatus
	if err := c.do(ctx, http.MethodPost, "/auth/session/validate", map[string]string{"session_token": token}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Logout consumes the held session and forgets it.
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// Me returns the caller's account and session scopes.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	if c.Token() == "" {
		return nil, ErrNoSession
	}
	var me Me
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// ChangePassword replaces the caller's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPost, "/auth/change-password", map[string]string{
		"current_password": current,
		"new_password":     next,
	}, nil)
}

// RegenerateAPIKey replaces the caller's inline key and returns it.
func (c *Client) RegenerateAPIKey(ctx context.Context) (string, error) {
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/regenerate-api-key", nil, &out); err != nil {
		return "", err
	}
	return out.APIKey, nil
}

// ---------------------------------------------------------------------------
// Admin users
// ---------------------------------------------------------------------------

// ListAdmins returns every admin account.
func (c *Client) ListAdmins(ctx context.Context) ([]User, error) {
	var out list[User]
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Resource, nil
}

// GetAdmin returns one account.
func (c *Client) GetAdmin(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateAdmin adds an account.
func (c *Client) CreateAdmin(ctx context.Context, req CreateAdminRequest) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPost, "/admin/users", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateAdmin changes an account.
func (c *Client) UpdateAdmin(ctx context.Context, id string, req UpdateAdminRequest) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id), req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteAdmin removes an account.
func (c *Client) DeleteAdmin(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, nil)
}

// ---------------------------------------------------------------------------
// API keys and changelog
// ---------------------------------------------------------------------------

// ListAPIKeys returns the keys of ownerID; "" means the caller and "*" means
// every key.
func (c *Client) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	path := "/apikeys"
	if ownerID != "" {
		path += "?owner_id=" + url.QueryEscape(ownerID)
	}
	var out list[model.APIKey]
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Resource, nil
}

// CreateAPIKey issues a registry key.
func (c *Client) CreateAPIKey(ctx context.Context, req CreateKeyRequest) (*CreatedKey, error) {
	var out CreatedKey
	if err := c.do(ctx, http.MethodPost, "/apikeys", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeAPIKey deactivates a key.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/apikeys/"+url.PathEscape(id), nil, nil)
}

// ListChangelog reads the audit trail, newest first.
func (c *Client) ListChangelog(ctx context.Context, q ChangelogQuery) ([]model.ChangelogEntry, error) {
	v := url.Values{}
	if q.EntityType != "" {
		v.Set("entity_type", q.EntityType)
	}
	if q.EntityID != "" {
		v.Set("entity_id", q.EntityID)
	}
	if q.PerformedBy != "" {
		v.Set("performed_by", q.PerformedBy)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	path := "/changelog"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out list[model.ChangelogEntry]
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Resource, nil
}
