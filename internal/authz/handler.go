package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/instperm"
	"github.com/guardpost/guardpost/internal/platform/httpx"
	"github.com/guardpost/guardpost/internal/scope"
	"github.com/guardpost/guardpost/internal/shared"
)

// Handler exposes the authorization API over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	mw       Middleware
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw, validate: validator.New()}
}

// MountRoutes registers the authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/principals/{principalID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAny(shared.PermGrantsView))
			r.Get("/permissions", h.resolvePermissions)
			r.Get("/permissions/check", h.checkPermission)
			r.Post("/access-check", h.canAccess)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAll(shared.PermGrantsManage))
			r.Post("/roles", h.mutateRoles(h.service.AssignRoles))
			r.Put("/roles", h.mutateRoles(h.service.SyncRoles))
			r.Delete("/roles", h.mutateRoles(h.service.RevokeRoles))
			r.Post("/permissions", h.mutatePermissions(h.service.AssignPermissions))
			r.Put("/permissions", h.mutatePermissions(h.service.SyncPermissions))
			r.Delete("/permissions", h.mutatePermissions(h.service.RevokePermissions))
			r.Post("/data-scopes", h.assignScopes(grants.TargetPrincipal, false))
			r.Put("/data-scopes", h.assignScopes(grants.TargetPrincipal, true))
			r.Delete("/data-scopes", h.revokeScopes(grants.TargetPrincipal))
			r.Post("/instance-permissions", h.instancePermissions(grants.TargetPrincipal))
		})
	})
	// Registered as leaf routes, not a mounted subrouter: the catalog handler
	// owns /roles/{roleID} and /permissions/{permissionID} themselves.
	manage := r.With(h.mw.RequireAll(shared.PermGrantsManage))
	manage.Post("/roles/{roleID}/permissions", h.mutateRolePermissions(h.service.AssignRolePermissions))
	manage.Put("/roles/{roleID}/permissions", h.mutateRolePermissions(h.service.SyncRolePermissions))
	manage.Delete("/roles/{roleID}/permissions", h.mutateRolePermissions(h.service.RevokeRolePermissions))
	manage.Post("/roles/{roleID}/data-scopes", h.assignScopes(grants.TargetRole, false))
	manage.Put("/roles/{roleID}/data-scopes", h.assignScopes(grants.TargetRole, true))
	manage.Delete("/roles/{roleID}/data-scopes", h.revokeScopes(grants.TargetRole))
	manage.Post("/roles/{roleID}/instance-permissions", h.instancePermissions(grants.TargetRole))
	manage.Post("/permissions/{permissionID}/data-scopes", h.assignScopes(grants.TargetPermission, false))
	manage.Put("/permissions/{permissionID}/data-scopes", h.assignScopes(grants.TargetPermission, true))
	manage.Delete("/permissions/{permissionID}/data-scopes", h.revokeScopes(grants.TargetPermission))
	r.With(h.mw.RequireAll(shared.PermCacheFlush)).
		Post("/admin/cache/flush", h.flushCache)
}

func (h *Handler) resolvePermissions(w http.ResponseWriter, r *http.Request) {
	principalID, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}
	set, err := h.service.ResolvePermissions(r.Context(), principalID)
	if err != nil {
		h.fail(w, r, "resolve permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	principalID, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "slug query parameter required")
		return
	}
	granted, err := h.service.HasPermission(r.Context(), principalID, slug,
		r.URL.Query().Get("resource_type"), r.URL.Query().Get("resource_id"))
	if err != nil {
		h.fail(w, r, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

type accessCheckRequest struct {
	Slug   string         `json:"slug" validate:"required"`
	Record map[string]any `json:"record" validate:"required"`
}

func (h *Handler) canAccess(w http.ResponseWriter, r *http.Request) {
	principalID, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}
	var req accessCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.service.CanAccess(r.Context(), principalID, req.Slug, req.Record)
	if err != nil {
		h.fail(w, r, "access check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

type roleIDsRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required,dive,gt=0"`
}

func (h *Handler) mutateRoles(op func(ctx context.Context, actorID, principalID int64, roleIDs []int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := pathID(w, r, "principalID")
		if !ok {
			return
		}
		var req roleIDsRequest
		if !h.decode(w, r, &req) {
			return
		}
		if err := op(r.Context(), h.actorID(r), principalID, req.RoleIDs); err != nil {
			h.fail(w, r, "mutate roles", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

type permissionIDsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required,dive,gt=0"`
}

func (h *Handler) mutatePermissions(op func(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := pathID(w, r, "principalID")
		if !ok {
			return
		}
		var req permissionIDsRequest
		if !h.decode(w, r, &req) {
			return
		}
		if err := op(r.Context(), h.actorID(r), principalID, req.PermissionIDs); err != nil {
			h.fail(w, r, "mutate permissions", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func (h *Handler) mutateRolePermissions(op func(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, ok := pathID(w, r, "roleID")
		if !ok {
			return
		}
		var req permissionIDsRequest
		if !h.decode(w, r, &req) {
			return
		}
		if err := op(r.Context(), h.actorID(r), roleID, req.PermissionIDs); err != nil {
			h.fail(w, r, "mutate role permissions", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

type scopeGrantPayload struct {
	DataScopeID int64  `json:"data_scope_id" validate:"required,gt=0"`
	Constraint  string `json:"constraint"`
}

type scopeAssignRequest struct {
	Scopes []scopeGrantPayload `json:"scopes" validate:"required,dive"`
}

type scopeRevokeRequest struct {
	DataScopeIDs []int64 `json:"data_scope_ids" validate:"required,dive,gt=0"`
}

func (h *Handler) assignScopes(target grants.Target, sync bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := pathID(w, r, targetParam(target))
		if !ok {
			return
		}
		var req scopeAssignRequest
		if !h.decode(w, r, &req) {
			return
		}
		scopeGrants := make([]grants.ScopeGrant, len(req.Scopes))
		for i, payload := range req.Scopes {
			scopeGrants[i] = grants.ScopeGrant{ScopeID: payload.DataScopeID, Constraint: payload.Constraint}
		}
		var err error
		if sync {
			err = h.service.SyncDataScopes(r.Context(), h.actorID(r), target, targetID, scopeGrants)
		} else {
			err = h.service.AssignDataScopes(r.Context(), h.actorID(r), target, targetID, scopeGrants)
		}
		if err != nil {
			h.fail(w, r, "mutate data scopes", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func (h *Handler) revokeScopes(target grants.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := pathID(w, r, targetParam(target))
		if !ok {
			return
		}
		var req scopeRevokeRequest
		if !h.decode(w, r, &req) {
			return
		}
		if err := h.service.RevokeDataScopes(r.Context(), h.actorID(r), target, targetID, req.DataScopeIDs); err != nil {
			h.fail(w, r, "revoke data scopes", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

type instancePermissionsRequest struct {
	Tuples []instperm.Tuple `json:"tuples" validate:"required,min=1,dive"`
	Sync   bool             `json:"sync"`
}

func (h *Handler) instancePermissions(target grants.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := pathID(w, r, targetParam(target))
		if !ok {
			return
		}
		var req instancePermissionsRequest
		if !h.decode(w, r, &req) {
			return
		}
		perms, err := h.service.ResolveOrCreateInstancePermissions(
			r.Context(), h.actorID(r), target, targetID, req.Tuples, req.Sync)
		if err != nil {
			h.fail(w, r, "instance permissions", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
	}
}

func (h *Handler) flushCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.FlushCache(r.Context()); err != nil {
		h.fail(w, r, "flush cache", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "flushed"})
}

// FilterQueryFor is exposed for callers embedding guardpost in-process; the
// HTTP surface has no generic query endpoint.
func (h *Handler) FilterQueryFor(r *http.Request, principalID int64, slug string, q scope.Query) (scope.Query, error) {
	return h.service.FilterQuery(r.Context(), principalID, slug, q)
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

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) actorID(r *http.Request) int64 {
	if principal := shared.PrincipalFromContext(r.Context()); principal != nil {
		return principal.ID
	}
	return 0
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func targetParam(target grants.Target) string {
	switch target {
	case grants.TargetRole:
		return "roleID"
	case grants.TargetPermission:
		return "permissionID"
	default:
		return "principalID"
	}
}
