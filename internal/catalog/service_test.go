package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardpost/guardpost/internal/shared"
)

type mockRepository struct {
	roles   map[int64]Role
	perms   map[int64]Permission
	general map[string]Permission
	scopes  map[int64]DataScope
	nextID  int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles:   map[int64]Role{},
		perms:   map[int64]Permission{},
		general: map[string]Permission{},
		scopes:  map[int64]DataScope{},
	}
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (m *mockRepository) ListRoles(ctx context.Context, guardNamespace string) ([]Role, error) {
	var out []Role
	for _, role := range m.roles {
		if role.GuardNamespace == guardNamespace && role.DeletedAt == nil {
			out = append(out, role)
		}
	}
	return out, nil
}

func (m *mockRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	m.nextID++
	role.ID = m.nextID
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if _, ok := m.roles[role.ID]; !ok {
		return Role{}, shared.ErrNotFound
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockRepository) SoftDeleteRole(ctx context.Context, id int64) error {
	role, ok := m.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	now := role.CreatedAt
	role.DeletedAt = &now
	m.roles[id] = role
	return nil
}

func (m *mockRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, ok := m.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return perm, nil
}

func (m *mockRepository) ListPermissions(ctx context.Context, guardNamespace string) ([]Permission, error) {
	var out []Permission
	for _, perm := range m.perms {
		if perm.GuardNamespace == guardNamespace {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (m *mockRepository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	m.nextID++
	perm.ID = m.nextID
	m.perms[perm.ID] = perm
	if !perm.IsInstance() {
		m.general[perm.Slug] = perm
	}
	return perm, nil
}

func (m *mockRepository) GeneralBySlugs(ctx context.Context, guardNamespace string, slugs []string) (map[string]Permission, error) {
	out := map[string]Permission{}
	for _, slug := range slugs {
		if perm, ok := m.general[slug]; ok && perm.GuardNamespace == guardNamespace {
			out[slug] = perm
		}
	}
	return out, nil
}

func (m *mockRepository) GetDataScope(ctx context.Context, id int64) (DataScope, error) {
	scope, ok := m.scopes[id]
	if !ok {
		return DataScope{}, shared.ErrNotFound
	}
	return scope, nil
}

func (m *mockRepository) ListDataScopes(ctx context.Context) ([]DataScope, error) {
	var out []DataScope
	for _, scope := range m.scopes {
		out = append(out, scope)
	}
	return out, nil
}

func (m *mockRepository) CreateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	m.nextID++
	scope.ID = m.nextID
	m.scopes[scope.ID] = scope
	return scope, nil
}

func (m *mockRepository) UpdateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	if _, ok := m.scopes[scope.ID]; !ok {
		return DataScope{}, shared.ErrNotFound
	}
	m.scopes[scope.ID] = scope
	return scope, nil
}

func (m *mockRepository) DeleteDataScope(ctx context.Context, id int64) error {
	if _, ok := m.scopes[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.scopes, id)
	return nil
}

func TestCreateRoleNormalizesSlug(t *testing.T) {
	service := NewService(newMockRepository())

	role, err := service.CreateRole(context.Background(), Role{Slug: "  Editors ", GuardNamespace: "api"})
	require.NoError(t, err)
	assert.Equal(t, "editors", role.Slug)
	// Name defaults to the slug when absent.
	assert.Equal(t, "editors", role.Name)
}

func TestCreateRoleValidation(t *testing.T) {
	service := NewService(newMockRepository())

	_, err := service.CreateRole(context.Background(), Role{GuardNamespace: "api"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.CreateRole(context.Background(), Role{Slug: "editors"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateRoleRequiresName(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)
	created, err := service.CreateRole(context.Background(), Role{Slug: "editors", GuardNamespace: "api", Name: "Editors"})
	require.NoError(t, err)

	created.Name = "  "
	_, err = service.UpdateRole(context.Background(), created)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreatePermissionGeneral(t *testing.T) {
	service := NewService(newMockRepository())

	perm, err := service.CreatePermission(context.Background(), Permission{Slug: " DOCS.VIEW ", GuardNamespace: "api"})
	require.NoError(t, err)
	assert.Equal(t, "docs.view", perm.Slug)
	assert.False(t, perm.IsInstance())
}

func TestCreatePermissionRequiresBothResourceFields(t *testing.T) {
	service := NewService(newMockRepository())
	rt := "document"

	_, err := service.CreatePermission(context.Background(), Permission{
		Slug: "docs.edit", GuardNamespace: "api", ResourceType: &rt,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateInstancePermissionRequiresBase(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)
	rt, rid := "document", "42"

	_, err := service.CreatePermission(context.Background(), Permission{
		Slug: "docs.edit", GuardNamespace: "api", ResourceType: &rt, ResourceID: &rid,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = service.CreatePermission(context.Background(), Permission{Slug: "docs.edit", GuardNamespace: "api"})
	require.NoError(t, err)

	perm, err := service.CreatePermission(context.Background(), Permission{
		Slug: "docs.edit", GuardNamespace: "api", ResourceType: &rt, ResourceID: &rid,
	})
	require.NoError(t, err)
	assert.True(t, perm.IsInstance())
	assert.Equal(t, "docs.edit|document|42", perm.IdentityKey())
}

func TestCreateDataScopeValidation(t *testing.T) {
	service := NewService(newMockRepository())
	ctx := context.Background()

	_, err := service.CreateDataScope(ctx, DataScope{Type: ScopePersonal})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.CreateDataScope(ctx, DataScope{Slug: "x", Type: ScopeType("WILD")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.CreateDataScope(ctx, DataScope{Slug: "x", Type: ScopeCustom})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.CreateDataScope(ctx, DataScope{Slug: "x", Type: ScopeCustom, Config: ScopeConfig{
		Rules: []ScopeRule{{Field: "status", Operator: "like", Value: "x"}},
	}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.CreateDataScope(ctx, DataScope{Slug: "x", Type: ScopeCustom, Config: ScopeConfig{
		Rules: []ScopeRule{{Field: " ", Operator: OpEq, Value: "x"}},
	}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDataScope(t *testing.T) {
	service := NewService(newMockRepository())

	scope, err := service.CreateDataScope(context.Background(), DataScope{
		Slug: " OWN ",
		Type: ScopeCustom,
		Config: ScopeConfig{Rules: []ScopeRule{
			{Field: "owner_id", Operator: OpEq, Value: "@principal_id"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "own", scope.Slug)
	assert.Equal(t, "own", scope.Name)
	assert.NotZero(t, scope.ID)
}

func TestDeleteRoleSoftDeletes(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)
	created, err := service.CreateRole(context.Background(), Role{Slug: "editors", GuardNamespace: "api"})
	require.NoError(t, err)

	require.NoError(t, service.DeleteRole(context.Background(), created.ID))
	assert.NotNil(t, repo.roles[created.ID].DeletedAt)

	roles, err := service.ListRoles(context.Background(), "api")
	require.NoError(t, err)
	assert.Empty(t, roles)
}
