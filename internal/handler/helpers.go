package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// writeJSON serializes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOK wraps data in a success envelope.
func writeOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, model.Envelope{Success: true, Data: data})
}

// writeList wraps a slice in the list payload.
func writeList(w http.ResponseWriter, resource interface{}, count, limit int) {
	writeOK(w, http.StatusOK, model.ListData{
		Resource: resource,
		Meta:     model.ListMeta{Count: count, Limit: limit},
	})
}

// WriteError writes a failure envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.Envelope{Success: false, Error: message, Code: code})
}

// errorClass is one row of the error to status table.
type errorClass struct {
	err    error
	status int
	code   string
}

// errorClasses is checked in order; specific sentinels come before the
// generic ones that may also be in their chain.
var errorClasses = []errorClass{
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{service.ErrExpiredAPIKey, http.StatusUnauthorized, "EXPIRED_API_KEY"},
	{service.ErrInactiveAPIKey, http.StatusUnauthorized, "INACTIVE_API_KEY"},
	{service.ErrInvalidAPIKey, http.StatusUnauthorized, "INVALID_API_KEY"},
	{service.ErrInvalidOrExpiredSession, http.StatusUnauthorized, "INVALID_SESSION"},
	{service.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
	{service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{service.ErrConflict, http.StatusConflict, "CONFLICT"},
	{service.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
}

// StatusOf maps a service error to its HTTP status and envelope code.
func StatusOf(err error) (int, string) {
	err = service.Classify(err)
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// WriteServiceError normalizes err into the envelope. Internal errors are
// logged and replaced by a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "Internal server error"
	case http.StatusServiceUnavailable:
		slog.WarnContext(r.Context(), "store unavailable", "path", r.URL.Path, "error", err)
		msg = "Storage backend unavailable"
	case http.StatusUnauthorized:
		// Credential failures never reveal which part was wrong.
		msg = unauthorizedMessage(code)
	}
	WriteError(w, status, code, msg)
}

func unauthorizedMessage(code string) string {
	switch code {
	case "INVALID_CREDENTIALS":
		return "Invalid credentials"
	case "EXPIRED_API_KEY":
		return "API key has expired"
	case "INACTIVE_API_KEY":
		return "API key is inactive"
	case "INVALID_API_KEY":
		return "Invalid API key"
	case "INVALID_SESSION":
		return "Invalid or expired session"
	default:
		return "Authentication required"
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", service.ErrInvalidInput, err)
	}
	return nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// requestMeta collects the request attributes stored on new sessions.
func requestMeta(r *http.Request) map[string]string {
	meta := map[string]string{}
	if ip := r.RemoteAddr; ip != "" {
		meta["ip"] = ip
	}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	return meta
}
