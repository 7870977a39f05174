package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/guardpost/guardpost/internal/audit"
	"github.com/guardpost/guardpost/internal/authn"
	"github.com/guardpost/guardpost/internal/authz"
	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/observability"
	"github.com/guardpost/guardpost/internal/shared"
	"github.com/guardpost/guardpost/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Authn          authn.Middleware
	AuthzHandler   *authz.Handler
	AuthzMW        authz.Middleware
	CatalogHandler *catalog.Handler
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with guardpost defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(params.Authn.Authenticate)
		if params.AuthzHandler != nil {
			params.AuthzHandler.MountRoutes(r)
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r,
				params.AuthzMW.RequireAny(shared.PermCatalogView, shared.PermCatalogManage),
				params.AuthzMW.RequireAll(shared.PermCatalogManage))
		}
		if params.AuditHandler != nil {
			r.Route("/audit", func(r chi.Router) {
				r.Use(params.AuthzMW.RequireAll(shared.PermAuditView))
				params.AuditHandler.MountRoutes(r)
			})
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
