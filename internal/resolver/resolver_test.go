package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
)

type mockGraph struct {
	principalRoles map[int64][]int64
	rolePerms      map[int64][]int64
	directPerms    map[int64][]int64
	roleScopes     map[int64][]grants.ScopeGrant
	directScopes   map[int64][]grants.ScopeGrant
}

func newMockGraph() *mockGraph {
	return &mockGraph{
		principalRoles: map[int64][]int64{},
		rolePerms:      map[int64][]int64{},
		directPerms:    map[int64][]int64{},
		roleScopes:     map[int64][]grants.ScopeGrant{},
		directScopes:   map[int64][]grants.ScopeGrant{},
	}
}

func (m *mockGraph) RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	return m.principalRoles[principalID], nil
}

func (m *mockGraph) DirectPermissionIDs(ctx context.Context, principalID int64) ([]int64, error) {
	return m.directPerms[principalID], nil
}

func (m *mockGraph) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return m.rolePerms[roleID], nil
}

func (m *mockGraph) ScopeGrants(ctx context.Context, target grants.Target, targetID int64) ([]grants.ScopeGrant, error) {
	if target == grants.TargetRole {
		return m.roleScopes[targetID], nil
	}
	return m.directScopes[targetID], nil
}

type mockCatalog struct {
	roles  map[int64]catalog.Role
	perms  map[int64]catalog.Permission
	scopes map[int64]catalog.DataScope
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		roles:  map[int64]catalog.Role{},
		perms:  map[int64]catalog.Permission{},
		scopes: map[int64]catalog.DataScope{},
	}
}

func (m *mockCatalog) RolesByIDs(ctx context.Context, ids []int64) ([]catalog.Role, error) {
	var out []catalog.Role
	for _, id := range ids {
		if role, ok := m.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (m *mockCatalog) PermissionsByIDs(ctx context.Context, ids []int64) ([]catalog.Permission, error) {
	var out []catalog.Permission
	for _, id := range ids {
		if perm, ok := m.perms[id]; ok {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (m *mockCatalog) DataScopesByIDs(ctx context.Context, ids []int64) ([]catalog.DataScope, error) {
	var out []catalog.DataScope
	for _, id := range ids {
		if scope, ok := m.scopes[id]; ok {
			out = append(out, scope)
		}
	}
	return out, nil
}

func generalPerm(id int64, slug string) catalog.Permission {
	return catalog.Permission{ID: id, Slug: slug, GuardNamespace: "api", Name: slug}
}

func instancePerm(id int64, slug, rt, rid string) catalog.Permission {
	return catalog.Permission{
		ID: id, Slug: slug, GuardNamespace: "api", Name: slug,
		ResourceType: &rt, ResourceID: &rid,
	}
}

func TestResolveMergesSourcesWithoutDeduplication(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.roles[10] = catalog.Role{ID: 10, Slug: "editor", Enabled: true}
	cat.perms[1] = generalPerm(1, "projects.view")
	graph.principalRoles[7] = []int64{10}
	graph.rolePerms[10] = []int64{1}
	graph.directPerms[7] = []int64{1}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)

	grant, ok := set.General["projects.view"]
	require.True(t, ok)
	require.Len(t, grant.Sources, 2)
	assert.Equal(t, SourceRole, grant.Sources[0].Type)
	assert.Equal(t, int64(10), grant.Sources[0].RoleID)
	assert.Equal(t, "editor", grant.Sources[0].RoleSlug)
	assert.Equal(t, SourceDirect, grant.Sources[1].Type)
	assert.True(t, grant.HasConflict)
	assert.Equal(t, 1, set.Summary.ConflictCount)
	assert.Equal(t, 1, set.Summary.RoleSourced)
	assert.Equal(t, 1, set.Summary.DirectSourced)
}

func TestResolveRolesBeforeDirectInLoadOrder(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.roles[10] = catalog.Role{ID: 10, Slug: "first", Enabled: true}
	cat.roles[20] = catalog.Role{ID: 20, Slug: "second", Enabled: true}
	cat.perms[1] = generalPerm(1, "a.view")
	cat.perms[2] = generalPerm(2, "b.view")
	cat.perms[3] = generalPerm(3, "c.view")
	graph.principalRoles[7] = []int64{10, 20}
	graph.rolePerms[10] = []int64{2}
	graph.rolePerms[20] = []int64{1}
	graph.directPerms[7] = []int64{3}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.view", "a.view", "c.view"}, set.PermissionOrder)

	// Identical graph state resolves to identical order.
	again, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, set.PermissionOrder, again.PermissionOrder)
	assert.Equal(t, set.Summary, again.Summary)
}

func TestResolveSkipsInactiveRoles(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	now := time.Now().UTC()
	cat.roles[10] = catalog.Role{ID: 10, Slug: "disabled", Enabled: false}
	cat.roles[20] = catalog.Role{ID: 20, Slug: "deleted", Enabled: true, DeletedAt: &now}
	cat.roles[30] = catalog.Role{ID: 30, Slug: "live", Enabled: true}
	cat.perms[1] = generalPerm(1, "a.view")
	cat.perms[2] = generalPerm(2, "b.view")
	graph.principalRoles[7] = []int64{10, 20, 30}
	graph.rolePerms[10] = []int64{1}
	graph.rolePerms[20] = []int64{1}
	graph.rolePerms[30] = []int64{2}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.NotContains(t, set.General, "a.view")
	assert.Contains(t, set.General, "b.view")
}

func TestResolvePartitionsInstancePermissions(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.perms[1] = generalPerm(1, "docs.edit")
	cat.perms[2] = instancePerm(2, "docs.edit", "document", "42")
	graph.directPerms[7] = []int64{1, 2}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)

	assert.Contains(t, set.General, "docs.edit")
	assert.Contains(t, set.Instance, "docs.edit|document|42")
	assert.Equal(t, []string{"docs.edit|document|42"}, set.InstanceByResource["document"])
	// Same slug, distinct entries: neither grant conflicts with the other.
	assert.False(t, set.General["docs.edit"].HasConflict)
	assert.False(t, set.Instance["docs.edit|document|42"].HasConflict)
	assert.Equal(t, 2, set.Summary.TotalPermissions)
	assert.Equal(t, 1, set.Summary.GeneralCount)
	assert.Equal(t, 1, set.Summary.InstanceCount)

	assert.True(t, set.HasPermission("docs.edit", "", ""))
	assert.True(t, set.HasPermission("docs.edit", "document", "42"))
	assert.False(t, set.HasPermission("docs.edit", "document", "43"))
}

func TestResolveInstanceOnlyDoesNotGrantGeneral(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.perms[2] = instancePerm(2, "docs.edit", "document", "42")
	graph.directPerms[7] = []int64{2}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, set.HasPermission("docs.edit", "", ""))
	assert.True(t, set.HasPermission("docs.edit", "document", "42"))
}

func TestResolveSkipsDanglingEdges(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.perms[1] = generalPerm(1, "a.view")
	graph.directPerms[7] = []int64{1, 999}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, set.PermissionOrder, 1)
}

func TestResolveMergesScopesWithConstraints(t *testing.T) {
	graph := newMockGraph()
	cat := newMockCatalog()

	cat.roles[10] = catalog.Role{ID: 10, Slug: "analyst", Enabled: true}
	cat.scopes[5] = catalog.DataScope{ID: 5, Slug: "own", Type: catalog.ScopePersonal}
	graph.principalRoles[7] = []int64{10}
	graph.roleScopes[10] = []grants.ScopeGrant{{ScopeID: 5, Constraint: "region:eu"}}
	graph.directScopes[7] = []grants.ScopeGrant{{ScopeID: 5}}

	set, err := New(graph, cat).Resolve(context.Background(), 7)
	require.NoError(t, err)

	merged, ok := set.Scopes[5]
	require.True(t, ok)
	require.Len(t, merged.Sources, 2)
	assert.Equal(t, SourceRole, merged.Sources[0].Type)
	assert.Equal(t, "region:eu", merged.Sources[0].Constraint)
	assert.Equal(t, SourceDirect, merged.Sources[1].Type)
	assert.Equal(t, "", merged.Sources[1].Constraint)
	assert.True(t, merged.HasConflict)
	assert.Equal(t, 1, set.Summary.DataScopeCount)
}

func TestResolveEmptyPrincipal(t *testing.T) {
	set, err := New(newMockGraph(), newMockCatalog()).Resolve(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, set.PermissionOrder)
	assert.Empty(t, set.ScopeOrder)
	assert.Equal(t, Summary{}, set.Summary)
	assert.False(t, set.HasPermission("anything", "", ""))
}
