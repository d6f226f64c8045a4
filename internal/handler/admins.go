package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// AdminHandler serves admin account management.
type AdminHandler struct {
	admins *service.AdminManager
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admins *service.AdminManager) *AdminHandler {
	return &AdminHandler{admins: admins}
}

// ListAdmins returns every admin account.
// GET /krapi/k1/admin/users
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	users, err := h.admins.List(r.Context(), service.AuthContextFrom(r.Context()))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	out := make([]userPayload, 0, len(users))
	for i := range users {
		out = append(out, toUserPayload(&users[i], nil))
	}
	writeList(w, out, len(out), 0)
}

type createAdminRequest struct {
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	AccessLevel string   `json:"access_level"`
	Permissions []string `json:"permissions"`
	Active      *bool    `json:"active"`
}

// CreateAdmin adds an admin account.
// POST /krapi/k1/admin/users
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	perms, err := model.ParseScopeSet(req.Permissions)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	p := service.CreateAdminParams{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		Role:        role,
		Permissions: perms,
		Active:      req.Active,
	}
	if req.AccessLevel != "" {
		level, err := model.ParseAccessLevel(req.AccessLevel)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
		p.AccessLevel = level
	}

	u, err := h.admins.Create(r.Context(), service.AuthContextFrom(r.Context()), p)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toUserPayload(u, nil))
}

// GetAdmin returns a single account.
// GET /krapi/k1/admin/users/{id}
func (h *AdminHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	u, err := h.admins.Get(r.Context(), service.AuthContextFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toUserPayload(u, nil))
}

type updateAdminRequest struct {
	Email       *string   `json:"email"`
	Username    *string   `json:"username"`
	Role        *string   `json:"role"`
	AccessLevel *string   `json:"access_level"`
	Permissions *[]string `json:"permissions"`
	Active      *bool     `json:"active"`
}

func (req updateAdminRequest) params() (service.UpdateAdminParams, error) {
	p := service.UpdateAdminParams{
		Email:    req.Email,
		Username: req.Username,
		Active:   req.Active,
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			return p, err
		}
		p.Role = &role
	}
	if req.AccessLevel != nil {
		level, err := model.ParseAccessLevel(*req.AccessLevel)
		if err != nil {
			return p, err
		}
		p.AccessLevel = &level
	}
	if req.Permissions != nil {
		perms, err := model.ParseScopeSet(*req.Permissions)
		if err != nil {
			return p, err
		}
		p.Permissions = &perms
	}
	return p, nil
}

// UpdateAdmin changes the supplied fields of an account.
// PUT /krapi/k1/admin/users/{id}
func (h *AdminHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	var req updateAdminRequest
	if err := readJSON(r, &req); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	p, err := req.params()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	u, err := h.admins.Update(r.Context(), service.AuthContextFrom(r.Context()), chi.URLParam(r, "id"), p)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toUserPayload(u, nil))
}

// DeleteAdmin removes an account.
// DELETE /krapi/k1/admin/users/{id}
func (h *AdminHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admins.Delete(r.Context(), service.AuthContextFrom(r.Context()), id); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"id": id})
}
