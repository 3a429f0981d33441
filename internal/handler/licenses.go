package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
)

const maxIssueBatch = 100

// AdminLicenseHandler serves the authenticated license registry API.
type AdminLicenseHandler struct {
	licensing *service.Licensing
}

// NewAdminLicenseHandler creates the admin license handler.
func NewAdminLicenseHandler(licensing *service.Licensing) *AdminLicenseHandler {
	return &AdminLicenseHandler{licensing: licensing}
}

type issueRequest struct {
	AppName         string     `json:"appName"`
	Count           int        `json:"count"`
	MaxActivations  int        `json:"maxActivations"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	LockedMachineID string     `json:"lockedMachineId"`
	Metadata        *string    `json:"metadata"`
}

// Issue handles POST /api/v1/admin/licenses.
func (h *AdminLicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var check fieldChecker
	check.require("appName", req.AppName, minAppName, maxAppName)
	if msg := check.err(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Count > maxIssueBatch {
		writeError(w, http.StatusBadRequest, "count exceeds the batch limit")
		return
	}

	lics, err := h.licensing.Issue(r.Context(), service.IssueParams{
		AppIdentifier:   req.AppName,
		Count:           req.Count,
		MaxActivations:  req.MaxActivations,
		ExpiresAt:       req.ExpiresAt,
		LockedMachineID: req.LockedMachineID,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, lics)
}

// List handles GET /api/v1/admin/licenses.
func (h *AdminLicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.LicenseFilter{
		AppName: r.URL.Query().Get("app"),
		Status:  model.LicenseStatus(r.URL.Query().Get("status")),
		Search:  r.URL.Query().Get("search"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown license status")
		return
	}

	lics, err := h.licensing.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, lics)
}

// Get handles GET /api/v1/admin/licenses/{licenseId}.
func (h *AdminLicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	lic, err := h.licensing.Get(r.Context(), chi.URLParam(r, "licenseId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, lic)
}

type licenseUpdateRequest struct {
	MaxActivations *int       `json:"maxActivations"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	ClearExpiry    bool       `json:"clearExpiry"`
	Metadata       *string    `json:"metadata"`
}

// Update handles PATCH /api/v1/admin/licenses/{licenseId}.
func (h *AdminLicenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req licenseUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	lic, err := h.licensing.Update(r.Context(), chi.URLParam(r, "licenseId"), service.LicenseUpdateParams{
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiry:    req.ClearExpiry,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, lic)
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PUT /api/v1/admin/licenses/{licenseId}/status.
func (h *AdminLicenseHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := model.LicenseStatus(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be active or revoked")
		return
	}

	lic, err := h.licensing.SetStatus(r.Context(), chi.URLParam(r, "licenseId"), status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, lic)
}

// Delete handles DELETE /api/v1/admin/licenses/{licenseId}.
func (h *AdminLicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.licensing.Delete(r.Context(), chi.URLParam(r, "licenseId")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "licenseId")})
}
