package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/guardpost/guardpost/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Service  *Service
	Registry *Registry
	Logger   *slog.Logger
}

// RequireAny ensures the current principal holds at least one of the slugs.
func (m Middleware) RequireAny(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, slug := range normalized {
				ok, err := m.Service.HasPermission(r.Context(), principal.ID, slug, "", "")
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("authz require any", slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current principal holds every slug.
func (m Middleware) RequireAll(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, slug := range normalized {
				ok, err := m.Service.HasPermission(r.Context(), principal.ID, slug, "", "")
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("authz require all", slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if !ok {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperation checks the slug registered for a named operation. An
// unregistered operation passes through unguarded.
func (m Middleware) RequireOperation(operation string) func(http.Handler) http.Handler {
	slug, ok := m.Registry.RequiredSlug(operation)
	if !ok {
		return func(next http.Handler) http.Handler { return next }
	}
	return m.RequireAll(slug)
}

func normalizeSlugs(slugs []string) []string {
	unique := make(map[string]struct{}, len(slugs))
	var normalized []string
	for _, slug := range slugs {
		slug = strings.TrimSpace(strings.ToLower(slug))
		if slug == "" {
			continue
		}
		if _, ok := unique[slug]; ok {
			continue
		}
		unique[slug] = struct{}{}
		normalized = append(normalized, slug)
	}
	return normalized
}
