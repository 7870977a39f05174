package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

func TestCanAccessAll(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopeAll, catalog.ScopeConfig{})}
	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{}))
}

func TestCanAccessPersonal(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopePersonal, catalog.ScopeConfig{})}

	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"owner_id": int64(7)}))
	// JSON decoding hands back float64; the comparison still holds.
	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"owner_id": float64(7)}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"owner_id": int64(8)}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{}))
}

func TestCanAccessDepartment(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopeDepartment, catalog.ScopeConfig{})}

	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"department_id": int64(12)}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"department_id": int64(99)}))
	assert.False(t, engine.CanAccess(grant, shared.Principal{ID: 7}, map[string]any{"department_id": int64(12)}))
}

func TestCanAccessOrganization(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopeOrganization, catalog.ScopeConfig{})}

	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"organization_id": int64(3)}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"organization_id": int64(4)}))
	assert.False(t, engine.CanAccess(grant, shared.Principal{ID: 7}, map[string]any{"organization_id": int64(3)}))
}

func TestCanAccessCustomAllRulesMustMatch(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopeCustom, catalog.ScopeConfig{Rules: []catalog.ScopeRule{
		{Field: "status", Operator: catalog.OpEq, Value: "open"},
		{Field: "region", Operator: catalog.OpIn, Value: []string{"eu", "us"}},
	}})}

	assert.True(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"status": "open", "region": "eu"}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"status": "closed", "region": "eu"}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"status": "open", "region": "apac"}))
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"status": "open"}))
}

func TestCanAccessCustomPlaceholders(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{
		Scope: scopeOf(1, catalog.ScopeCustom, catalog.ScopeConfig{Rules: []catalog.ScopeRule{
			{Field: "assignee_id", Operator: catalog.OpEq, Value: PlaceholderPrincipalID},
			{Field: "dept_id", Operator: catalog.OpIn, Value: PlaceholderDepartmentIDs},
			{Field: "tenant", Operator: catalog.OpEq, Value: PlaceholderConstraint},
		}}),
		Constraint: "acme",
	}
	record := map[string]any{"assignee_id": int64(7), "dept_id": int64(11), "tenant": "acme"}
	assert.True(t, engine.CanAccess(grant, testPrincipal(), record))

	// Unknown markers and empty constraints fail closed.
	grant.Constraint = ""
	assert.False(t, engine.CanAccess(grant, testPrincipal(), record))

	unknown := Grant{Scope: scopeOf(1, catalog.ScopeCustom, catalog.ScopeConfig{Rules: []catalog.ScopeRule{
		{Field: "x", Operator: catalog.OpEq, Value: "@nope"},
	}})}
	assert.False(t, engine.CanAccess(unknown, testPrincipal(), map[string]any{"x": "@nope"}))
}

func TestCanAccessCustomWithoutRules(t *testing.T) {
	engine := NewEngine(nil)
	grant := Grant{Scope: scopeOf(1, catalog.ScopeCustom, catalog.ScopeConfig{})}
	assert.False(t, engine.CanAccess(grant, testPrincipal(), map[string]any{"anything": 1}))
}

func TestCanAccessAny(t *testing.T) {
	engine := NewEngine(nil)
	grants := []Grant{
		{Scope: scopeOf(1, catalog.ScopePersonal, catalog.ScopeConfig{})},
		{Scope: scopeOf(2, catalog.ScopeOrganization, catalog.ScopeConfig{})},
	}
	record := map[string]any{"owner_id": int64(99), "organization_id": int64(3)}
	assert.True(t, engine.CanAccessAny(grants, testPrincipal(), record))
	assert.False(t, engine.CanAccessAny(nil, testPrincipal(), record))
	assert.False(t, engine.CanAccessAny(grants, testPrincipal(), map[string]any{"owner_id": int64(99), "organization_id": int64(4)}))
}
