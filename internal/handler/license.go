package handler

import (
	"errors"
	"net/http"

	"github.com/keygatehq/keygate/internal/service"
)

// Request field bounds for the public activation endpoints.
const (
	minAppName    = 2
	maxAppName    = 120
	minLicenseKey = 10
	maxLicenseKey = 128
	minMachineID  = 6
	maxMachineID  = 256
	maxAppVersion = 64
	minToken      = 20
	maxToken      = 4096
)

// LicenseHandler serves the public activation protocol: activate, validate,
// deactivate. These endpoints are unauthenticated but rate limited.
type LicenseHandler struct {
	licensing *service.Licensing
}

// NewLicenseHandler creates the public license handler.
func NewLicenseHandler(licensing *service.Licensing) *LicenseHandler {
	return &LicenseHandler{licensing: licensing}
}

type activateRequest struct {
	AppName    string  `json:"appName"`
	LicenseKey string  `json:"licenseKey"`
	MachineID  string  `json:"machineId"`
	AppVersion string  `json:"appVersion"`
	ShopName   *string `json:"shopName"`
	Metadata   *string `json:"metadata"`
}

// Activate handles POST /api/v1/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var check fieldChecker
	check.require("appName", req.AppName, minAppName, maxAppName)
	check.require("licenseKey", req.LicenseKey, minLicenseKey, maxLicenseKey)
	check.require("machineId", req.MachineID, minMachineID, maxMachineID)
	check.require("appVersion", req.AppVersion, 1, maxAppVersion)
	if msg := check.err(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.licensing.Activate(r.Context(), service.ActivateParams{
		AppIdentifier: req.AppName,
		LicenseKey:    req.LicenseKey,
		MachineID:     req.MachineID,
		AppVersion:    req.AppVersion,
		ShopName:      req.ShopName,
		Metadata:      req.Metadata,
		IPAddress:     clientIP(r),
		UserAgent:     userAgent(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// tokenRequest is the shared validate/deactivate body: the token plus the
// app and machine it claims to be bound to.
type tokenRequest struct {
	AppName         string `json:"appName"`
	MachineID       string `json:"machineId"`
	ActivationToken string `json:"activationToken"`
}

func (req *tokenRequest) check() string {
	var check fieldChecker
	check.require("appName", req.AppName, minAppName, maxAppName)
	check.require("machineId", req.MachineID, minMachineID, maxMachineID)
	check.require("activationToken", req.ActivationToken, minToken, maxToken)
	return check.err()
}

// Validate handles POST /api/v1/license/validate. Business failures, a bad
// token included, come back 200 as {valid:false, reason}; only malformed
// requests and store faults use error statuses.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.check(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.licensing.Validate(r.Context(), service.ValidateParams{
		AppIdentifier:   req.AppName,
		MachineID:       req.MachineID,
		ActivationToken: req.ActivationToken,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Deactivate handles POST /api/v1/license/deactivate. Protocol failures are
// 400 {success:false, error} so a client can tell a rejected release from a
// server fault.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.check(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.licensing.Deactivate(r.Context(), service.DeactivateParams{
		AppIdentifier:   req.AppName,
		MachineID:       req.MachineID,
		ActivationToken: req.ActivationToken,
		IPAddress:       clientIP(r),
		UserAgent:       userAgent(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			writeError(w, http.StatusBadRequest, "invalid or expired activation token")
		case errors.Is(err, service.ErrTokenMismatch),
			errors.Is(err, service.ErrLicenseNotFound),
			errors.Is(err, service.ErrActivationGone):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeServiceError(w, err)
		}
		return
	}
	writeData(w, http.StatusOK, res)
}
