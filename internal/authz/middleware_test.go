package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardpost/guardpost/internal/shared"
)

func middlewareFixture(slugs ...string) (Middleware, *serviceFixture) {
	f := newFixture()
	f.cache.sets[7] = grantedSet(7, slugs...)
	return Middleware{Service: f.service}, f
}

func doRequest(t *testing.T, mw func(http.Handler) http.Handler, principal *shared.Principal) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if principal != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAnyPassesWithOneSlug(t *testing.T) {
	mw, _ := middlewareFixture("docs.view")
	rec := doRequest(t, mw.RequireAny("docs.manage", "docs.view"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAnyForbidsWithoutSlugs(t *testing.T) {
	mw, _ := middlewareFixture()
	rec := doRequest(t, mw.RequireAny("docs.view"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnyForbidsAnonymous(t *testing.T) {
	mw, _ := middlewareFixture("docs.view")
	rec := doRequest(t, mw.RequireAny("docs.view"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAllNeedsEverySlug(t *testing.T) {
	mw, _ := middlewareFixture("docs.view")
	rec := doRequest(t, mw.RequireAll("docs.view", "docs.manage"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	mw, _ = middlewareFixture("docs.view", "docs.manage")
	rec = doRequest(t, mw.RequireAll("docs.view", "docs.manage"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAllEmptySlugListPassesThrough(t *testing.T) {
	mw, _ := middlewareFixture()
	rec := doRequest(t, mw.RequireAll("  "), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireOperation(t *testing.T) {
	mw, _ := middlewareFixture("orders.view")
	mw.Registry = NewRegistry(map[string]string{"orders.list": "orders.view"})

	rec := doRequest(t, mw.RequireOperation("orders.list"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	mw.Registry = NewRegistry(map[string]string{"orders.list": "orders.manage"})
	rec = doRequest(t, mw.RequireOperation("orders.list"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireOperationUnregisteredPassesThrough(t *testing.T) {
	mw, _ := middlewareFixture()
	rec := doRequest(t, mw.RequireOperation("not.registered"), &shared.Principal{ID: 7})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAnySuperAdminBypass(t *testing.T) {
	mw, f := middlewareFixture()
	f.attrs.principals[1] = shared.Principal{ID: 1, SuperAdmin: true}
	rec := doRequest(t, mw.RequireAny("docs.manage"), &shared.Principal{ID: 1, SuperAdmin: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
