// Package resolver computes a principal's effective permission set: the
// merged, deduplicated, source-attributed result of every granting path.
package resolver

import (
	"time"

	"github.com/guardpost/guardpost/internal/catalog"
)

// SourceType distinguishes how a grant reached the principal.
type SourceType string

const (
	SourceRole   SourceType = "ROLE"
	SourceDirect SourceType = "DIRECT"
)

// Source is one granting path. RoleID/RoleSlug are set for ROLE sources;
// Constraint carries the edge constraint of data-scope grants.
type Source struct {
	Type       SourceType `json:"type"`
	RoleID     int64      `json:"role_id,omitempty"`
	RoleSlug   string     `json:"role_slug,omitempty"`
	Constraint string     `json:"constraint,omitempty"`
}

// PermissionGrant is one deduplicated permission with every source that
// granted it. Sources are never deduplicated, only the permission record is.
type PermissionGrant struct {
	Permission  catalog.Permission `json:"permission"`
	Sources     []Source           `json:"sources"`
	HasConflict bool               `json:"has_conflict"`
}

// ScopeGrant is one deduplicated data scope with its granting sources.
type ScopeGrant struct {
	Scope       catalog.DataScope `json:"scope"`
	Sources     []Source          `json:"sources"`
	HasConflict bool              `json:"has_conflict"`
}

// Summary carries counts computed from the merged structures, never from raw
// edges, so they are internally consistent by construction.
type Summary struct {
	TotalPermissions int `json:"total_permissions"`
	GeneralCount     int `json:"general_count"`
	InstanceCount    int `json:"instance_count"`
	DataScopeCount   int `json:"data_scope_count"`
	RoleSourced      int `json:"role_sourced"`
	DirectSourced    int `json:"direct_sourced"`
	ConflictCount    int `json:"conflict_count"`
}

// EffectivePermissionSet is the complete resolution for one principal. Order
// slices preserve collection order (roles first, in role-load order, then
// direct) so repeated resolutions are byte-for-byte identical.
type EffectivePermissionSet struct {
	PrincipalID int64 `json:"principal_id"`

	// General permissions keyed by slug.
	General map[string]PermissionGrant `json:"general"`
	// Instance permissions keyed by identity key (slug|resourceType|resourceId).
	Instance map[string]PermissionGrant `json:"instance"`
	// Identity keys of instance permissions grouped by resource type.
	InstanceByResource map[string][]string `json:"instance_by_resource"`
	// Permission identity keys in collection order.
	PermissionOrder []string `json:"permission_order"`

	// Data scopes keyed by scope id, plus their collection order.
	Scopes     map[int64]ScopeGrant `json:"scopes"`
	ScopeOrder []int64              `json:"scope_order"`

	Summary    Summary   `json:"summary"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// HasPermission reports whether the set grants the slug, or, when a resource
// tuple is given, either the general slug or that exact instance key. General
// and instance grants of one slug remain distinct entries in the set.
func (s *EffectivePermissionSet) HasPermission(slug, resourceType, resourceID string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.General[slug]; ok {
		return true
	}
	if resourceType != "" && resourceID != "" {
		_, ok := s.Instance[catalog.InstanceKey(slug, resourceType, resourceID)]
		return ok
	}
	return false
}

// Grant looks up a permission grant by identity key across both partitions.
func (s *EffectivePermissionSet) Grant(key string) (PermissionGrant, bool) {
	if grant, ok := s.General[key]; ok {
		return grant, true
	}
	grant, ok := s.Instance[key]
	return grant, ok
}
