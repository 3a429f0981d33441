package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
)

// ActivationHandler serves the authenticated activation ledger API.
type ActivationHandler struct {
	licensing *service.Licensing
}

// NewActivationHandler creates the admin activation handler.
func NewActivationHandler(licensing *service.Licensing) *ActivationHandler {
	return &ActivationHandler{licensing: licensing}
}

// List handles GET /api/v1/admin/activations.
func (h *ActivationHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.ActivationFilter{
		AppName:    r.URL.Query().Get("app"),
		LicenseKey: r.URL.Query().Get("licenseKey"),
		Status:     model.ActivationStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown activation status")
		return
	}

	acts, err := h.licensing.Activations(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, acts)
}

// Get handles GET /api/v1/admin/activations/{activationId}.
func (h *ActivationHandler) Get(w http.ResponseWriter, r *http.Request) {
	act, err := h.licensing.Activation(r.Context(), chi.URLParam(r, "activationId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, act)
}

type pendingRequest struct {
	AppName    string  `json:"appName"`
	LicenseKey string  `json:"licenseKey"`
	MachineID  string  `json:"machineId"`
	AppVersion string  `json:"appVersion"`
	ShopName   *string `json:"shopName"`
	Metadata   *string `json:"metadata"`
}

// Create handles POST /api/v1/admin/activations. The row starts pending and
// claims no seat until approved.
func (h *ActivationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var check fieldChecker
	check.require("appName", req.AppName, minAppName, maxAppName)
	check.require("licenseKey", req.LicenseKey, minLicenseKey, maxLicenseKey)
	check.require("machineId", req.MachineID, minMachineID, maxMachineID)
	if msg := check.err(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	act, err := h.licensing.CreatePending(r.Context(), service.PendingParams{
		AppIdentifier: req.AppName,
		LicenseKey:    req.LicenseKey,
		MachineID:     req.MachineID,
		AppVersion:    req.AppVersion,
		ShopName:      req.ShopName,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, act)
}

// Stats handles GET /api/v1/admin/activations/stats.
func (h *ActivationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.licensing.Stats(r.Context(), r.URL.Query().Get("app"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// Logs handles GET /api/v1/admin/activations/{activationId}/logs.
func (h *ActivationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.licensing.ActivationLogs(r.Context(), chi.URLParam(r, "activationId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}

// Approve handles POST /api/v1/admin/activations/{activationId}/approve.
func (h *ActivationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	act, err := h.licensing.Approve(r.Context(), chi.URLParam(r, "activationId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, act)
}

// Revoke handles POST /api/v1/admin/activations/{activationId}/revoke.
func (h *ActivationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	act, err := h.licensing.Revoke(r.Context(), chi.URLParam(r, "activationId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, act)
}
