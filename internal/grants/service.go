package grants

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guardpost/guardpost/internal/audit"
	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

// GraphPort defines the edge store operations the service needs.
type GraphPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxGraph) error) error
	PrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error)
}

// CatalogPort defines the catalog reads used for pre-write validation.
type CatalogPort interface {
	GetRole(ctx context.Context, id int64) (catalog.Role, error)
	RolesByIDs(ctx context.Context, ids []int64) ([]catalog.Role, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]catalog.Permission, error)
	DataScopesByIDs(ctx context.Context, ids []int64) ([]catalog.DataScope, error)
}

// Invalidator drops cached resolutions after a committed mutation.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID int64) error
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

// Recorder stores audit entries for committed mutations.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service applies the assign/revoke/sync mutation rules to the grant graph.
// Assign and sync validate every referenced target before any edge is
// written; revoke silently tolerates missing edges.
type Service struct {
	graph       GraphPort
	catalog     CatalogPort
	invalidator Invalidator
	recorder    Recorder
	logger      *slog.Logger
}

// NewService builds a Service instance. Invalidator and recorder may be nil
// in contexts (seeding, tests) that have no cache or trail.
func NewService(graph GraphPort, cat CatalogPort, invalidator Invalidator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, catalog: cat, invalidator: invalidator, recorder: recorder, logger: logger}
}

// AssignRoles adds roles to a principal without removing existing ones.
func (s *Service) AssignRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	roleIDs = dedupeIDs(roleIDs)
	if err := s.validateRoles(ctx, roleIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.AttachPrincipalRoles(ctx, principalID, roleIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionAssignRoles, map[string]any{"role_ids": roleIDs})
	return nil
}

// RevokeRoles removes specific roles from a principal. Unknown ids no-op.
func (s *Service) RevokeRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	roleIDs = dedupeIDs(roleIDs)
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.DetachPrincipalRoles(ctx, principalID, roleIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionRevokeRoles, map[string]any{"role_ids": roleIDs})
	return nil
}

// SyncRoles replaces the principal's entire role set, all-or-nothing.
func (s *Service) SyncRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	roleIDs = dedupeIDs(roleIDs)
	if err := s.validateRoles(ctx, roleIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		if err := tx.DetachAllPrincipalRoles(ctx, principalID); err != nil {
			return err
		}
		return tx.AttachPrincipalRoles(ctx, principalID, roleIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionSyncRoles, map[string]any{"role_ids": roleIDs})
	return nil
}

// AssignPermissions adds direct permissions to a principal.
func (s *Service) AssignPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	if _, err := s.validatePermissions(ctx, permissionIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.AttachPrincipalPermissions(ctx, principalID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionAssignPermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// RevokePermissions removes specific direct permissions from a principal.
func (s *Service) RevokePermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.DetachPrincipalPermissions(ctx, principalID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionRevokePermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// SyncPermissions replaces the principal's direct permission set.
func (s *Service) SyncPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	if _, err := s.validatePermissions(ctx, permissionIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		if err := tx.DetachAllPrincipalPermissions(ctx, principalID); err != nil {
			return err
		}
		return tx.AttachPrincipalPermissions(ctx, principalID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterPrincipalMutation(ctx, actorID, principalID, audit.ActionSyncPermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// AssignRolePermissions adds permissions to a role. Every permission must
// live in the role's guard namespace.
func (s *Service) AssignRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	if err := s.validateRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.AttachRolePermissions(ctx, roleID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterRoleMutation(ctx, actorID, roleID, audit.ActionAssignPermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// RevokeRolePermissions removes specific permissions from a role.
func (s *Service) RevokeRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.DetachRolePermissions(ctx, roleID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterRoleMutation(ctx, actorID, roleID, audit.ActionRevokePermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// SyncRolePermissions replaces the role's permission set.
func (s *Service) SyncRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	permissionIDs = dedupeIDs(permissionIDs)
	if err := s.validateRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		if err := tx.DetachAllRolePermissions(ctx, roleID); err != nil {
			return err
		}
		return tx.AttachRolePermissions(ctx, roleID, permissionIDs)
	})
	if err != nil {
		return err
	}
	s.afterRoleMutation(ctx, actorID, roleID, audit.ActionSyncPermissions, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// AssignDataScopes adds data-scope edges to a principal, role, or permission.
func (s *Service) AssignDataScopes(ctx context.Context, actorID int64, target Target, targetID int64, scopeGrants []ScopeGrant) error {
	scopeGrants = dedupeGrants(scopeGrants)
	if err := s.validateScopes(ctx, scopeGrants); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.AttachScopes(ctx, target, targetID, scopeGrants)
	})
	if err != nil {
		return err
	}
	s.afterScopeMutation(ctx, actorID, target, targetID, audit.ActionAssignDataScopes, scopeGrants)
	return nil
}

// RevokeDataScopes removes specific data-scope edges.
func (s *Service) RevokeDataScopes(ctx context.Context, actorID int64, target Target, targetID int64, scopeIDs []int64) error {
	scopeIDs = dedupeIDs(scopeIDs)
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		return tx.DetachScopes(ctx, target, targetID, scopeIDs)
	})
	if err != nil {
		return err
	}
	grants := make([]ScopeGrant, len(scopeIDs))
	for i, id := range scopeIDs {
		grants[i] = ScopeGrant{ScopeID: id}
	}
	s.afterScopeMutation(ctx, actorID, target, targetID, audit.ActionRevokeDataScopes, grants)
	return nil
}

// SyncDataScopes replaces the target's data-scope edge set.
func (s *Service) SyncDataScopes(ctx context.Context, actorID int64, target Target, targetID int64, scopeGrants []ScopeGrant) error {
	scopeGrants = dedupeGrants(scopeGrants)
	if err := s.validateScopes(ctx, scopeGrants); err != nil {
		return err
	}
	err := s.graph.WithTx(ctx, func(ctx context.Context, tx TxGraph) error {
		if err := tx.DetachAllScopes(ctx, target, targetID); err != nil {
			return err
		}
		return tx.AttachScopes(ctx, target, targetID, scopeGrants)
	})
	if err != nil {
		return err
	}
	s.afterScopeMutation(ctx, actorID, target, targetID, audit.ActionSyncDataScopes, scopeGrants)
	return nil
}

func (s *Service) validateRoles(ctx context.Context, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	found, err := s.catalog.RolesByIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	return missingIDs("roles", roleIDs, roleSet(found))
}

func (s *Service) validatePermissions(ctx context.Context, permissionIDs []int64) ([]catalog.Permission, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}
	found, err := s.catalog.PermissionsByIDs(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(found))
	for _, p := range found {
		seen[p.ID] = struct{}{}
	}
	if err := missingIDs("permissions", permissionIDs, seen); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Service) validateRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := s.catalog.GetRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("grants: role %d: %w", roleID, err)
	}
	perms, err := s.validatePermissions(ctx, permissionIDs)
	if err != nil {
		return err
	}
	var mismatched []int64
	for _, perm := range perms {
		if perm.GuardNamespace != role.GuardNamespace {
			mismatched = append(mismatched, perm.ID)
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("grants: permissions %v not in guard namespace %q: %w",
			mismatched, role.GuardNamespace, shared.ErrGuardMismatch)
	}
	return nil
}

func (s *Service) validateScopes(ctx context.Context, scopeGrants []ScopeGrant) error {
	if len(scopeGrants) == 0 {
		return nil
	}
	ids := make([]int64, len(scopeGrants))
	for i, grant := range scopeGrants {
		ids[i] = grant.ScopeID
	}
	found, err := s.catalog.DataScopesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(found))
	for _, scope := range found {
		seen[scope.ID] = struct{}{}
	}
	return missingIDs("data scopes", ids, seen)
}

func (s *Service) afterPrincipalMutation(ctx context.Context, actorID, principalID int64, action string, detail map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.InvalidatePrincipal(ctx, principalID); err != nil {
			s.logger.Warn("cache invalidation failed",
				slog.Int64("principal_id", principalID), slog.Any("error", err))
		}
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID: actorID, Action: action, Target: string(TargetPrincipal), TargetID: principalID, Detail: detail,
		})
	}
}

func (s *Service) afterRoleMutation(ctx context.Context, actorID, roleID int64, action string, detail map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
			s.logger.Warn("role cache invalidation failed",
				slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID: actorID, Action: action, Target: string(TargetRole), TargetID: roleID, Detail: detail,
		})
	}
}

func (s *Service) afterScopeMutation(ctx context.Context, actorID int64, target Target, targetID int64, action string, scopeGrants []ScopeGrant) {
	ids := make([]int64, len(scopeGrants))
	for i, grant := range scopeGrants {
		ids[i] = grant.ScopeID
	}
	switch target {
	case TargetPrincipal:
		s.afterPrincipalMutation(ctx, actorID, targetID, action, map[string]any{"data_scope_ids": ids})
		return
	case TargetRole:
		s.afterRoleMutation(ctx, actorID, targetID, action, map[string]any{"data_scope_ids": ids})
		return
	}
	// Permission-attached scopes affect any principal holding the
	// permission; without a reverse index the cache layer flushes wholesale.
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateAll(ctx); err != nil {
			s.logger.Warn("scope cache invalidation failed", slog.Any("error", err))
		}
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID: actorID, Action: action, Target: string(target), TargetID: targetID,
			Detail: map[string]any{"data_scope_ids": ids},
		})
	}
}

func roleSet(roles []catalog.Role) map[int64]struct{} {
	seen := make(map[int64]struct{}, len(roles))
	for _, role := range roles {
		seen[role.ID] = struct{}{}
	}
	return seen
}

// missingIDs aggregates every unknown id into one error instead of failing on
// the first.
func missingIDs(kind string, requested []int64, seen map[int64]struct{}) error {
	var missing []int64
	for _, id := range requested {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("grants: %s not found: %v: %w", kind, missing, shared.ErrNotFound)
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeGrants(grants []ScopeGrant) []ScopeGrant {
	seen := make(map[int64]struct{}, len(grants))
	out := grants[:0:0]
	for _, grant := range grants {
		if _, ok := seen[grant.ScopeID]; ok {
			continue
		}
		seen[grant.ScopeID] = struct{}{}
		out = append(out, grant)
	}
	return out
}
