package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keygatehq/keygate/internal/server/middleware"
	"github.com/keygatehq/keygate/internal/service"
)

// SystemHandler serves admin session management and admin account CRUD.
type SystemHandler struct {
	auth *service.Auth
}

// NewSystemHandler creates the system handler.
func NewSystemHandler(auth *service.Auth) *SystemHandler {
	return &SystemHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/admin/session.
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Logout handles DELETE /api/v1/admin/session. The bearer token names the
// session to kill, so no auth middleware sits in front of it.
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "Bearer token required")
		return
	}
	if err := h.auth.Logout(r.Context(), strings.TrimPrefix(header, "Bearer ")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// Me handles GET /api/v1/admin/session. Requires authentication.
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r.Context())
	if admin == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeData(w, http.StatusOK, admin)
}

type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CreateAdmin handles POST /api/v1/admin/admins.
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	admin, err := h.auth.CreateAdmin(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, service.ErrAdminExists) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusCreated, admin)
}
