// Package authz is the facade the surrounding API layer calls: permission
// resolution and checks, grant mutations, instance-permission provisioning,
// and data-scope enforcement.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guardpost/guardpost/internal/audit"
	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/instperm"
	"github.com/guardpost/guardpost/internal/resolver"
	"github.com/guardpost/guardpost/internal/scope"
	"github.com/guardpost/guardpost/internal/shared"
)

// CachePort is the read-through permission cache.
type CachePort interface {
	Get(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error)
	InvalidatePrincipal(ctx context.Context, principalID int64) error
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

// GraphPort exposes the one edge read the facade needs beyond resolution:
// scopes attached directly to a permission record.
type GraphPort interface {
	shared.DataScopeHolder
}

// MutatorPort applies grant mutations.
type MutatorPort interface {
	AssignRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error
	RevokeRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error
	SyncRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error
	AssignPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error
	RevokePermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error
	SyncPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error
	AssignRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error
	RevokeRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error
	SyncRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error
	AssignDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeGrants []grants.ScopeGrant) error
	RevokeDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeIDs []int64) error
	SyncDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeGrants []grants.ScopeGrant) error
}

// FactoryPort resolves or creates instance permissions.
type FactoryPort interface {
	ResolveOrCreate(ctx context.Context, guardNamespace string, tuples []instperm.Tuple) ([]catalog.Permission, error)
}

// ScopeCatalogPort fetches data-scope records for permission-attached edges.
type ScopeCatalogPort interface {
	DataScopesByIDs(ctx context.Context, ids []int64) ([]catalog.DataScope, error)
}

// Recorder stores audit entries.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service wires the authorization core together behind one API.
type Service struct {
	cache    CachePort
	graph    GraphPort
	mutator  MutatorPort
	factory  FactoryPort
	scopes   ScopeCatalogPort
	attrs    shared.AttributeProvider
	engine   *scope.Engine
	recorder Recorder
	guard    string
	logger   *slog.Logger
}

// NewService builds the facade.
func NewService(cache CachePort, graph GraphPort, mutator MutatorPort, factory FactoryPort,
	scopes ScopeCatalogPort, attrs shared.AttributeProvider, engine *scope.Engine, recorder Recorder,
	guardNamespace string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache: cache, graph: graph, mutator: mutator, factory: factory,
		scopes: scopes, attrs: attrs, engine: engine, recorder: recorder,
		guard: guardNamespace, logger: logger,
	}
}

// ResolvePermissions returns the principal's effective permission set.
func (s *Service) ResolvePermissions(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error) {
	return s.cache.Get(ctx, principalID)
}

// HasPermission checks one slug, optionally against a resource instance.
// Super admins pass every check.
func (s *Service) HasPermission(ctx context.Context, principalID int64, slug, resourceType, resourceID string) (bool, error) {
	principal, err := s.attrs.Attributes(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("authz: attributes: %w", err)
	}
	if principal.SuperAdmin {
		return true, nil
	}
	set, err := s.cache.Get(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.HasPermission(slug, resourceType, resourceID), nil
}

// AssignRoles, RevokeRoles, SyncRoles mutate principal↔role edges.
func (s *Service) AssignRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	return s.mutator.AssignRoles(ctx, actorID, principalID, roleIDs)
}

func (s *Service) RevokeRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	return s.mutator.RevokeRoles(ctx, actorID, principalID, roleIDs)
}

func (s *Service) SyncRoles(ctx context.Context, actorID, principalID int64, roleIDs []int64) error {
	return s.mutator.SyncRoles(ctx, actorID, principalID, roleIDs)
}

// AssignPermissions, RevokePermissions, SyncPermissions mutate direct
// principal↔permission edges.
func (s *Service) AssignPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	return s.mutator.AssignPermissions(ctx, actorID, principalID, permissionIDs)
}

func (s *Service) RevokePermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	return s.mutator.RevokePermissions(ctx, actorID, principalID, permissionIDs)
}

func (s *Service) SyncPermissions(ctx context.Context, actorID, principalID int64, permissionIDs []int64) error {
	return s.mutator.SyncPermissions(ctx, actorID, principalID, permissionIDs)
}

// Role-targeted permission mutations.
func (s *Service) AssignRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	return s.mutator.AssignRolePermissions(ctx, actorID, roleID, permissionIDs)
}

func (s *Service) RevokeRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	return s.mutator.RevokeRolePermissions(ctx, actorID, roleID, permissionIDs)
}

func (s *Service) SyncRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	return s.mutator.SyncRolePermissions(ctx, actorID, roleID, permissionIDs)
}

// Data-scope mutations against a principal, role, or permission target.
func (s *Service) AssignDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeGrants []grants.ScopeGrant) error {
	return s.mutator.AssignDataScopes(ctx, actorID, target, targetID, scopeGrants)
}

func (s *Service) RevokeDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeIDs []int64) error {
	return s.mutator.RevokeDataScopes(ctx, actorID, target, targetID, scopeIDs)
}

func (s *Service) SyncDataScopes(ctx context.Context, actorID int64, target grants.Target, targetID int64, scopeGrants []grants.ScopeGrant) error {
	return s.mutator.SyncDataScopes(ctx, actorID, target, targetID, scopeGrants)
}

// ResolveOrCreateInstancePermissions provisions instance permissions and
// unions them into the target's grant edges. The sync variant replaces the
// target's direct permission set instead of adding to it.
func (s *Service) ResolveOrCreateInstancePermissions(ctx context.Context, actorID int64, target grants.Target, targetID int64, tuples []instperm.Tuple, sync bool) ([]catalog.Permission, error) {
	perms, err := s.factory.ResolveOrCreate(ctx, s.guard, tuples)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(perms))
	for i, perm := range perms {
		ids[i] = perm.ID
	}
	switch target {
	case grants.TargetPrincipal:
		if sync {
			err = s.mutator.SyncPermissions(ctx, actorID, targetID, ids)
		} else {
			err = s.mutator.AssignPermissions(ctx, actorID, targetID, ids)
		}
	case grants.TargetRole:
		if sync {
			err = s.mutator.SyncRolePermissions(ctx, actorID, targetID, ids)
		} else {
			err = s.mutator.AssignRolePermissions(ctx, actorID, targetID, ids)
		}
	default:
		return nil, fmt.Errorf("authz: instance permissions cannot target %q: %w", target, shared.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.Entry{
			ActorID:  actorID,
			Action:   audit.ActionCreateInstancePerms,
			Target:   string(target),
			TargetID: targetID,
			Detail:   map[string]any{"permission_ids": ids, "tuples": tuples},
		})
	}
	return perms, nil
}

// ScopesFor collects the data-scope grants that govern one permission slug
// for a principal: the principal's merged scope set (role-derived and
// direct) plus scopes attached to the permission record itself.
func (s *Service) ScopesFor(ctx context.Context, principalID int64, slug string) ([]scope.Grant, error) {
	set, err := s.cache.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !set.HasPermission(slug, "", "") {
		return nil, nil
	}

	type grantKey struct {
		scopeID    int64
		constraint string
	}
	seen := map[grantKey]struct{}{}
	var out []scope.Grant
	for _, id := range set.ScopeOrder {
		merged := set.Scopes[id]
		for _, source := range merged.Sources {
			k := grantKey{scopeID: id, constraint: source.Constraint}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, scope.Grant{Scope: merged.Scope, Constraint: source.Constraint})
		}
	}

	general, ok := set.General[slug]
	if ok {
		edges, err := s.graph.ScopeGrants(ctx, grants.TargetPermission, general.Permission.ID)
		if err != nil {
			return nil, fmt.Errorf("authz: permission scopes: %w", err)
		}
		scopeIDs := make([]int64, 0, len(edges))
		for _, edge := range edges {
			scopeIDs = append(scopeIDs, edge.ScopeID)
		}
		records, err := s.scopeRecords(ctx, scopeIDs)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			record, ok := records[edge.ScopeID]
			if !ok {
				continue
			}
			k := grantKey{scopeID: edge.ScopeID, constraint: edge.Constraint}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, scope.Grant{Scope: record, Constraint: edge.Constraint})
		}
	}
	return out, nil
}

// FilterQuery narrows a caller query to the rows the principal may see under
// the given permission slug. Holding the permission with no attached scope
// means no restriction; not holding it means the query matches nothing.
func (s *Service) FilterQuery(ctx context.Context, principalID int64, slug string, q scope.Query) (scope.Query, error) {
	principal, err := s.attrs.Attributes(ctx, principalID)
	if err != nil {
		return scope.Query{}, fmt.Errorf("authz: attributes: %w", err)
	}
	if principal.SuperAdmin {
		return q, nil
	}
	held, err := s.HasPermission(ctx, principalID, slug, "", "")
	if err != nil {
		return scope.Query{}, err
	}
	if !held {
		return s.engine.FilterQuery(q, nil, principal), nil
	}
	scopeGrants, err := s.ScopesFor(ctx, principalID, slug)
	if err != nil {
		return scope.Query{}, err
	}
	if len(scopeGrants) == 0 {
		return q, nil
	}
	return s.engine.FilterQuery(q, scopeGrants, principal), nil
}

// CanAccess checks one record under the given permission slug.
func (s *Service) CanAccess(ctx context.Context, principalID int64, slug string, record map[string]any) (bool, error) {
	principal, err := s.attrs.Attributes(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("authz: attributes: %w", err)
	}
	if principal.SuperAdmin {
		return true, nil
	}
	held, err := s.HasPermission(ctx, principalID, slug, "", "")
	if err != nil {
		return false, err
	}
	if !held {
		return false, nil
	}
	scopeGrants, err := s.ScopesFor(ctx, principalID, slug)
	if err != nil {
		return false, err
	}
	if len(scopeGrants) == 0 {
		return true, nil
	}
	return s.engine.CanAccessAny(scopeGrants, principal, record), nil
}

func (s *Service) scopeRecords(ctx context.Context, ids []int64) (map[int64]catalog.DataScope, error) {
	if len(ids) == 0 {
		return map[int64]catalog.DataScope{}, nil
	}
	records, err := s.scopes.DataScopesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("authz: fetch scopes: %w", err)
	}
	byID := make(map[int64]catalog.DataScope, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}
	return byID, nil
}

// FlushCache drops every cached resolution. Exposed for administrative use.
func (s *Service) FlushCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}
