package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/guardpost/guardpost/internal/shared"
)

// RepositoryPort defines data access methods for the catalog service.
type RepositoryPort interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, guardNamespace string) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	SoftDeleteRole(ctx context.Context, id int64) error

	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context, guardNamespace string) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	GeneralBySlugs(ctx context.Context, guardNamespace string, slugs []string) (map[string]Permission, error)

	GetDataScope(ctx context.Context, id int64) (DataScope, error)
	ListDataScopes(ctx context.Context) ([]DataScope, error)
	CreateDataScope(ctx context.Context, scope DataScope) (DataScope, error)
	UpdateDataScope(ctx context.Context, scope DataScope) (DataScope, error)
	DeleteDataScope(ctx context.Context, id int64) error
}

// Service handles catalog business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// ListRoles returns live roles in a guard namespace.
func (s *Service) ListRoles(ctx context.Context, guardNamespace string) ([]Role, error) {
	return s.repo.ListRoles(ctx, guardNamespace)
}

// CreateRole validates and inserts a new role.
func (s *Service) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Slug = strings.TrimSpace(strings.ToLower(role.Slug))
	role.Name = strings.TrimSpace(role.Name)
	if role.Slug == "" {
		return Role{}, fmt.Errorf("catalog: role slug required: %w", shared.ErrValidation)
	}
	if role.GuardNamespace == "" {
		return Role{}, fmt.Errorf("catalog: role guard namespace required: %w", shared.ErrValidation)
	}
	if role.Name == "" {
		role.Name = role.Slug
	}
	return s.repo.CreateRole(ctx, role)
}

// UpdateRole updates mutable role fields.
func (s *Service) UpdateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("catalog: role name required: %w", shared.ErrValidation)
	}
	return s.repo.UpdateRole(ctx, role)
}

// DeleteRole soft-deletes a role, excluding it from future resolution.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.SoftDeleteRole(ctx, id)
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// ListPermissions returns all permissions in a guard namespace.
func (s *Service) ListPermissions(ctx context.Context, guardNamespace string) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, guardNamespace)
}

// CreatePermission validates and inserts one permission. Instance permissions
// require an existing general base permission with the same slug; that rule is
// enforced here at creation time, never retrofitted.
func (s *Service) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	perm.Slug = strings.TrimSpace(strings.ToLower(perm.Slug))
	if perm.Slug == "" {
		return Permission{}, fmt.Errorf("catalog: permission slug required: %w", shared.ErrValidation)
	}
	if perm.GuardNamespace == "" {
		return Permission{}, fmt.Errorf("catalog: permission guard namespace required: %w", shared.ErrValidation)
	}
	if (perm.ResourceType == nil) != (perm.ResourceID == nil) {
		return Permission{}, fmt.Errorf("catalog: resource type and id must both be set or both be empty: %w", shared.ErrValidation)
	}
	if perm.IsInstance() {
		bases, err := s.repo.GeneralBySlugs(ctx, perm.GuardNamespace, []string{perm.Slug})
		if err != nil {
			return Permission{}, err
		}
		if _, ok := bases[perm.Slug]; !ok {
			return Permission{}, fmt.Errorf("catalog: no base permission for slug %q: %w", perm.Slug, shared.ErrNotFound)
		}
	}
	if perm.Name == "" {
		perm.Name = perm.Slug
	}
	return s.repo.CreatePermission(ctx, perm)
}

// GetDataScope fetches a data scope by id.
func (s *Service) GetDataScope(ctx context.Context, id int64) (DataScope, error) {
	return s.repo.GetDataScope(ctx, id)
}

// ListDataScopes returns all data scopes.
func (s *Service) ListDataScopes(ctx context.Context) ([]DataScope, error) {
	return s.repo.ListDataScopes(ctx)
}

// CreateDataScope validates and inserts a data scope.
func (s *Service) CreateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	if err := validateScope(&scope); err != nil {
		return DataScope{}, err
	}
	return s.repo.CreateDataScope(ctx, scope)
}

// UpdateDataScope validates and updates a data scope.
func (s *Service) UpdateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	if err := validateScope(&scope); err != nil {
		return DataScope{}, err
	}
	return s.repo.UpdateDataScope(ctx, scope)
}

// DeleteDataScope removes a data scope.
func (s *Service) DeleteDataScope(ctx context.Context, id int64) error {
	return s.repo.DeleteDataScope(ctx, id)
}

func validateScope(scope *DataScope) error {
	scope.Slug = strings.TrimSpace(strings.ToLower(scope.Slug))
	if scope.Slug == "" {
		return fmt.Errorf("catalog: scope slug required: %w", shared.ErrValidation)
	}
	if !scope.Type.Valid() {
		return fmt.Errorf("catalog: unknown scope type %q: %w", scope.Type, shared.ErrValidation)
	}
	if scope.Type == ScopeCustom {
		if len(scope.Config.Rules) == 0 {
			return fmt.Errorf("catalog: custom scope requires at least one rule: %w", shared.ErrValidation)
		}
		for _, rule := range scope.Config.Rules {
			if strings.TrimSpace(rule.Field) == "" {
				return fmt.Errorf("catalog: custom scope rule field required: %w", shared.ErrValidation)
			}
			if rule.Operator != OpEq && rule.Operator != OpIn {
				return fmt.Errorf("catalog: unsupported rule operator %q: %w", rule.Operator, shared.ErrValidation)
			}
		}
	}
	if scope.Name == "" {
		scope.Name = scope.Slug
	}
	return nil
}
