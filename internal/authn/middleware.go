package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/guardpost/guardpost/internal/shared"
)

// AttributeSource loads the scope attributes of an authenticated principal.
type AttributeSource interface {
	Attributes(ctx context.Context, principalID int64) (shared.Principal, error)
}

// Middleware resolves the Bearer credential into a request principal.
type Middleware struct {
	Service *Service
	Attrs   AttributeSource
	Logger  *slog.Logger
}

// Authenticate rejects requests without a valid Bearer token and stores the
// resolved principal in the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		principalID, err := m.Service.Authenticate(r.Context(), credential)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		principal, err := m.Attrs.Attributes(r.Context(), principalID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("load principal attributes", slog.Int64("principal_id", principalID), slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), &principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
