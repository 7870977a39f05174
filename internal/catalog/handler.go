package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/guardpost/guardpost/internal/platform/httpx"
)

// Handler exposes catalog CRUD over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers the catalog routes. viewMW guards reads, manageMW
// guards writes.
func (h *Handler) MountRoutes(r chi.Router, viewMW, manageMW func(http.Handler) http.Handler) {
	r.Route("/roles", func(r chi.Router) {
		r.With(viewMW).Get("/", h.listRoles)
		r.With(viewMW).Get("/{roleID}", h.getRole)
		r.With(manageMW).Post("/", h.createRole)
		r.With(manageMW).Put("/{roleID}", h.updateRole)
		r.With(manageMW).Delete("/{roleID}", h.deleteRole)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(viewMW).Get("/", h.listPermissions)
		r.With(viewMW).Get("/{permissionID}", h.getPermission)
		r.With(manageMW).Post("/", h.createPermission)
	})
	r.Route("/data-scopes", func(r chi.Router) {
		r.With(viewMW).Get("/", h.listDataScopes)
		r.With(viewMW).Get("/{scopeID}", h.getDataScope)
		r.With(manageMW).Post("/", h.createDataScope)
		r.With(manageMW).Put("/{scopeID}", h.updateDataScope)
		r.With(manageMW).Delete("/{scopeID}", h.deleteDataScope)
	})
}

type roleRequest struct {
	Slug           string `json:"slug" validate:"required"`
	GuardNamespace string `json:"guard_namespace" validate:"required"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Enabled        *bool  `json:"enabled"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context(), r.URL.Query().Get("guard_namespace"))
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role := Role{
		Slug:           req.Slug,
		GuardNamespace: req.GuardNamespace,
		Name:           req.Name,
		Description:    req.Description,
		Enabled:        true,
	}
	if req.Enabled != nil {
		role.Enabled = *req.Enabled
	}
	created, err := h.service.CreateRole(r.Context(), role)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type roleUpdateRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req roleUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateRole(r.Context(), Role{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
	})
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

type permissionRequest struct {
	Slug           string            `json:"slug" validate:"required"`
	GuardNamespace string            `json:"guard_namespace" validate:"required"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	ResourceType   *string           `json:"resource_type"`
	ResourceID     *string           `json:"resource_id"`
	Metadata       map[string]string `json:"metadata"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), r.URL.Query().Get("guard_namespace"))
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreatePermission(r.Context(), Permission{
		Slug:           req.Slug,
		GuardNamespace: req.GuardNamespace,
		Name:           req.Name,
		Description:    req.Description,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type dataScopeRequest struct {
	Slug   string      `json:"slug" validate:"required"`
	Name   string      `json:"name"`
	Type   ScopeType   `json:"type" validate:"required"`
	Config ScopeConfig `json:"config"`
}

func (h *Handler) listDataScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.service.ListDataScopes(r.Context())
	if err != nil {
		h.fail(w, "list data scopes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data_scopes": scopes})
}

func (h *Handler) getDataScope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "scopeID")
	if !ok {
		return
	}
	ds, err := h.service.GetDataScope(r.Context(), id)
	if err != nil {
		h.fail(w, "get data scope", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ds)
}

func (h *Handler) createDataScope(w http.ResponseWriter, r *http.Request) {
	var req dataScopeRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateDataScope(r.Context(), DataScope{
		Slug:   req.Slug,
		Name:   req.Name,
		Type:   req.Type,
		Config: req.Config,
	})
	if err != nil {
		h.fail(w, "create data scope", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateDataScope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "scopeID")
	if !ok {
		return
	}
	var req dataScopeRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.UpdateDataScope(r.Context(), DataScope{
		ID:     id,
		Slug:   req.Slug,
		Name:   req.Name,
		Type:   req.Type,
		Config: req.Config,
	})
	if err != nil {
		h.fail(w, "update data scope", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteDataScope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "scopeID")
	if !ok {
		return
	}
	if err := h.service.DeleteDataScope(r.Context(), id); err != nil {
		h.fail(w, "delete data scope", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}
