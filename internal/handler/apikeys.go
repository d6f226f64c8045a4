package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// KeyHandler serves the API key registry.
type KeyHandler struct {
	auth *service.AuthService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(auth *service.AuthService) *KeyHandler {
	return &KeyHandler{auth: auth}
}

// ListAPIKeys returns the caller's keys, or the keys of ?owner_id= (all keys
// when owner_id=*) for callers allowed to see them.
// GET /krapi/k1/apikeys
func (h *KeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	actx := service.AuthContextFrom(r.Context())
	owner := queryString(r, "owner_id")
	switch owner {
	case "":
		if actx != nil && actx.Principal != nil {
			owner = actx.Principal.ID
		}
	case "*":
		owner = ""
	}
	keys, err := h.auth.ListAPIKeys(r.Context(), actx, owner)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeList(w, keys, len(keys), 0)
}

type createKeyRequest struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	OwnerID    string     `json:"owner_id"`
	Scopes     []string   `json:"scopes"`
	ProjectIDs []string   `json:"project_ids"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type createKeyResponse struct {
	APIKey string        `json:"api_key"`
	Key    *model.APIKey `json:"key"`
}

// CreateAPIKey issues a registry key. The raw key is only returned here.
// POST /krapi/k1/apikeys
func (h *KeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	kt, err := model.ParseKeyType(req.Type)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	var scopes model.ScopeSet
	if req.Scopes != nil {
		if scopes, err = model.ParseScopeSet(req.Scopes); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
	}

	k, raw, err := h.auth.CreateAPIKey(r.Context(), service.AuthContextFrom(r.Context()), service.CreateKeyParams{
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Type:       kt,
		Scopes:     scopes,
		ProjectIDs: req.ProjectIDs,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, createKeyResponse{APIKey: raw, Key: k})
}

// RevokeAPIKey deactivates a key. Sessions opened with it stay valid until
// they expire or log out.
// DELETE /krapi/k1/apikeys/{id}
func (h *KeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.auth.RevokeAPIKey(r.Context(), service.AuthContextFrom(r.Context()), id); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": false})
}
