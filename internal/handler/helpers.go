// Package handler contains the HTTP layer. Handlers decode and bound-check
// requests, call into the services, and map service errors onto the wire
// envelope; no licensing rules live here.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
	"github.com/keygatehq/keygate/internal/token"
)

// envelope is the uniform response wrapper. Success responses carry data,
// failures carry error.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON serializes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData wraps v in the success envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, envelope{Success: true, Data: v})
}

// writeError writes a failure envelope with the given status and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// readJSON decodes the request body as JSON into v. Unknown fields are
// tolerated; the body is closed after decoding.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
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

// writeServiceError maps service sentinels onto the HTTP error ladder.
// Unrecognized errors become opaque 500s so internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAppNotFound),
		errors.Is(err, service.ErrLicenseNotFound),
		errors.Is(err, service.ErrActivationGone):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrLicenseInactive),
		errors.Is(err, service.ErrLicenseExpired),
		errors.Is(err, service.ErrMachineMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrSeatLimit):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, token.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrAppExists),
		errors.Is(err, service.ErrAdminExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeStoreNotFound maps a bare store.ErrNotFound onto 404 before falling
// back to the service error ladder. Used by handlers that talk to the
// catalog, which surfaces store errors directly.
func writeStoreNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeServiceError(w, err)
}

// fieldChecker validates required string fields against length bounds and
// records the first violation.
type fieldChecker struct {
	problem string
}

func (f *fieldChecker) require(name, value string, min, max int) {
	if f.problem != "" {
		return
	}
	if len(value) < min {
		if value == "" {
			f.problem = name + " is required"
		} else {
			f.problem = name + " must be at least " + strconv.Itoa(min) + " characters"
		}
		return
	}
	if len(value) > max {
		f.problem = name + " must be at most " + strconv.Itoa(max) + " characters"
	}
}

func (f *fieldChecker) err() string {
	return f.problem
}

// clientIP returns the request's remote IP as a nullable string for the
// audit log. RealIP middleware has already unwrapped proxies.
func clientIP(r *http.Request) *string {
	if r.RemoteAddr == "" {
		return nil
	}
	addr := r.RemoteAddr
	return &addr
}

func userAgent(r *http.Request) *string {
	if ua := r.UserAgent(); ua != "" {
		return &ua
	}
	return nil
}
