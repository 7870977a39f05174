package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/shared"
)

// GraphPort defines the grant-edge reads used during resolution, composed
// from the shared holder interfaces plus the role-side permission read.
type GraphPort interface {
	shared.RoleHolder
	shared.PermissionHolder
	shared.DataScopeHolder
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
}

// CatalogPort defines the record reads used during resolution.
type CatalogPort interface {
	RolesByIDs(ctx context.Context, ids []int64) ([]catalog.Role, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]catalog.Permission, error)
	DataScopesByIDs(ctx context.Context, ids []int64) ([]catalog.DataScope, error)
}

// Resolver merges role-derived and direct grants into an effective
// permission set. Resolution is a pure function of current grant-graph state.
type Resolver struct {
	graph   GraphPort
	catalog CatalogPort
	clock   func() time.Time
}

// New constructs a Resolver.
func New(graph GraphPort, cat CatalogPort) *Resolver {
	return &Resolver{
		graph:   graph,
		catalog: cat,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// permOccurrence is one sighting of a permission id along a granting path.
type permOccurrence struct {
	permissionID int64
	source       Source
}

// scopeOccurrence is one sighting of a data-scope edge.
type scopeOccurrence struct {
	scopeID int64
	source  Source
}

// Resolve computes the effective permission set for one principal.
func (r *Resolver) Resolve(ctx context.Context, principalID int64) (*EffectivePermissionSet, error) {
	// Roles first, in load order; disabled and soft-deleted roles drop out.
	roleIDs, err := r.graph.RoleIDsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("resolver: load roles: %w", err)
	}
	roles, err := r.catalog.RolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetch roles: %w", err)
	}

	var permOccurrences []permOccurrence
	var scopeOccurrences []scopeOccurrence
	for _, role := range roles {
		if !role.Active() {
			continue
		}
		source := Source{Type: SourceRole, RoleID: role.ID, RoleSlug: role.Slug}
		permIDs, err := r.graph.RolePermissionIDs(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("resolver: role %d permissions: %w", role.ID, err)
		}
		for _, id := range permIDs {
			permOccurrences = append(permOccurrences, permOccurrence{permissionID: id, source: source})
		}
		scopeEdges, err := r.graph.ScopeGrants(ctx, grants.TargetRole, role.ID)
		if err != nil {
			return nil, fmt.Errorf("resolver: role %d scopes: %w", role.ID, err)
		}
		for _, edge := range scopeEdges {
			edgeSource := source
			edgeSource.Constraint = edge.Constraint
			scopeOccurrences = append(scopeOccurrences, scopeOccurrence{scopeID: edge.ScopeID, source: edgeSource})
		}
	}

	// Then direct grants.
	directPermIDs, err := r.graph.DirectPermissionIDs(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("resolver: direct permissions: %w", err)
	}
	for _, id := range directPermIDs {
		permOccurrences = append(permOccurrences, permOccurrence{permissionID: id, source: Source{Type: SourceDirect}})
	}
	directScopes, err := r.graph.ScopeGrants(ctx, grants.TargetPrincipal, principalID)
	if err != nil {
		return nil, fmt.Errorf("resolver: direct scopes: %w", err)
	}
	for _, edge := range directScopes {
		scopeOccurrences = append(scopeOccurrences, scopeOccurrence{
			scopeID: edge.ScopeID,
			source:  Source{Type: SourceDirect, Constraint: edge.Constraint},
		})
	}

	set := &EffectivePermissionSet{
		PrincipalID:        principalID,
		General:            map[string]PermissionGrant{},
		Instance:           map[string]PermissionGrant{},
		InstanceByResource: map[string][]string{},
		Scopes:             map[int64]ScopeGrant{},
		ResolvedAt:         r.clock(),
	}
	if err := r.mergePermissions(ctx, set, permOccurrences); err != nil {
		return nil, err
	}
	if err := r.mergeScopes(ctx, set, scopeOccurrences); err != nil {
		return nil, err
	}
	set.Summary = summarize(set)
	return set, nil
}

// mergePermissions groups occurrences by identity key in first-seen order.
// Every source tuple is kept; only the permission record deduplicates.
func (r *Resolver) mergePermissions(ctx context.Context, set *EffectivePermissionSet, occurrences []permOccurrence) error {
	ids := make([]int64, 0, len(occurrences))
	seen := make(map[int64]struct{}, len(occurrences))
	for _, occ := range occurrences {
		if _, ok := seen[occ.permissionID]; ok {
			continue
		}
		seen[occ.permissionID] = struct{}{}
		ids = append(ids, occ.permissionID)
	}
	perms, err := r.catalog.PermissionsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolver: fetch permissions: %w", err)
	}
	byID := make(map[int64]catalog.Permission, len(perms))
	for _, perm := range perms {
		byID[perm.ID] = perm
	}

	merged := map[string]*PermissionGrant{}
	for _, occ := range occurrences {
		perm, ok := byID[occ.permissionID]
		if !ok {
			// Dangling edge; the permission was deleted underneath it.
			continue
		}
		key := perm.IdentityKey()
		grant, ok := merged[key]
		if !ok {
			grant = &PermissionGrant{Permission: perm}
			merged[key] = grant
			set.PermissionOrder = append(set.PermissionOrder, key)
		}
		grant.Sources = append(grant.Sources, occ.source)
	}

	for _, key := range set.PermissionOrder {
		grant := merged[key]
		grant.HasConflict = len(grant.Sources) > 1
		if grant.Permission.IsInstance() {
			set.Instance[key] = *grant
			rt := *grant.Permission.ResourceType
			set.InstanceByResource[rt] = append(set.InstanceByResource[rt], key)
		} else {
			set.General[key] = *grant
		}
	}
	return nil
}

// mergeScopes performs the same source-tracking merge for data scopes,
// grouped by scope id.
func (r *Resolver) mergeScopes(ctx context.Context, set *EffectivePermissionSet, occurrences []scopeOccurrence) error {
	ids := make([]int64, 0, len(occurrences))
	seen := make(map[int64]struct{}, len(occurrences))
	for _, occ := range occurrences {
		if _, ok := seen[occ.scopeID]; ok {
			continue
		}
		seen[occ.scopeID] = struct{}{}
		ids = append(ids, occ.scopeID)
	}
	scopes, err := r.catalog.DataScopesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolver: fetch scopes: %w", err)
	}
	byID := make(map[int64]catalog.DataScope, len(scopes))
	for _, scope := range scopes {
		byID[scope.ID] = scope
	}

	merged := map[int64]*ScopeGrant{}
	for _, occ := range occurrences {
		scope, ok := byID[occ.scopeID]
		if !ok {
			continue
		}
		grant, ok := merged[occ.scopeID]
		if !ok {
			grant = &ScopeGrant{Scope: scope}
			merged[occ.scopeID] = grant
			set.ScopeOrder = append(set.ScopeOrder, occ.scopeID)
		}
		grant.Sources = append(grant.Sources, occ.source)
	}
	for _, id := range set.ScopeOrder {
		grant := merged[id]
		grant.HasConflict = len(grant.Sources) > 1
		set.Scopes[id] = *grant
	}
	return nil
}

func summarize(set *EffectivePermissionSet) Summary {
	summary := Summary{
		GeneralCount:   len(set.General),
		InstanceCount:  len(set.Instance),
		DataScopeCount: len(set.Scopes),
	}
	summary.TotalPermissions = summary.GeneralCount + summary.InstanceCount
	for _, key := range set.PermissionOrder {
		grant, _ := set.Grant(key)
		if grant.HasConflict {
			summary.ConflictCount++
		}
		roleSeen, directSeen := false, false
		for _, source := range grant.Sources {
			switch source.Type {
			case SourceRole:
				roleSeen = true
			case SourceDirect:
				directSeen = true
			}
		}
		if roleSeen {
			summary.RoleSourced++
		}
		if directSeen {
			summary.DirectSourced++
		}
	}
	return summary
}
