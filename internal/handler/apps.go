package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/service"
)

// AppHandler serves the authenticated app catalog API.
type AppHandler struct {
	catalog *service.Catalog
}

// NewAppHandler creates the admin app handler.
func NewAppHandler(catalog *service.Catalog) *AppHandler {
	return &AppHandler{catalog: catalog}
}

type appCreateRequest struct {
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	Metadata *string `json:"metadata"`
}

// Create handles POST /api/v1/admin/apps.
func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var check fieldChecker
	check.require("name", req.Name, minAppName, maxAppName)
	if msg := check.err(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	app, err := h.catalog.Create(r.Context(), req.Name, req.Slug, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, app)
}

// List handles GET /api/v1/admin/apps.
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.catalog.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, apps)
}

// Get handles GET /api/v1/admin/apps/{appId}.
func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.catalog.Get(r.Context(), chi.URLParam(r, "appId"))
	if err != nil {
		writeStoreNotFound(w, err)
		return
	}
	writeData(w, http.StatusOK, app)
}

type appUpdateRequest struct {
	Name     *string `json:"name"`
	Slug     *string `json:"slug"`
	Status   *string `json:"status"`
	Metadata *string `json:"metadata"`
}

// Update handles PATCH /api/v1/admin/apps/{appId}.
func (h *AppHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req appUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p := service.AppUpdateParams{
		Name:     req.Name,
		Slug:     req.Slug,
		Metadata: req.Metadata,
	}
	if req.Status != nil {
		status := model.AppStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be active or inactive")
			return
		}
		p.Status = &status
	}

	app, err := h.catalog.Update(r.Context(), chi.URLParam(r, "appId"), p)
	if err != nil {
		writeStoreNotFound(w, err)
		return
	}
	writeData(w, http.StatusOK, app)
}

// Delete handles DELETE /api/v1/admin/apps/{appId}.
func (h *AppHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "appId")); err != nil {
		writeStoreNotFound(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "appId")})
}
