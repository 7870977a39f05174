package catalog

import (
	"fmt"
	"time"
)

// ScopeType enumerates the supported data-scope interpretations.
type ScopeType string

const (
	ScopeAll          ScopeType = "ALL"
	ScopePersonal     ScopeType = "PERSONAL"
	ScopeDepartment   ScopeType = "DEPARTMENT"
	ScopeOrganization ScopeType = "ORGANIZATION"
	ScopeCustom       ScopeType = "CUSTOM"
)

// Valid reports whether the scope type is one of the known values.
func (t ScopeType) Valid() bool {
	switch t {
	case ScopeAll, ScopePersonal, ScopeDepartment, ScopeOrganization, ScopeCustom:
		return true
	}
	return false
}

// Role groups permissions and data scopes under a guard namespace.
type Role struct {
	ID             int64
	Slug           string
	GuardNamespace string
	Name           string
	Description    string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// Active reports whether the role participates in resolution.
func (r Role) Active() bool {
	return r.Enabled && r.DeletedAt == nil
}

// Permission is an atomic capability. It is general when ResourceType and
// ResourceID are both nil, and instance-scoped when both are set.
type Permission struct {
	ID             int64
	Slug           string
	GuardNamespace string
	Name           string
	Description    string
	ResourceType   *string
	ResourceID     *string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsInstance reports whether the permission is bound to one resource record.
func (p Permission) IsInstance() bool {
	return p.ResourceType != nil && p.ResourceID != nil
}

// IdentityKey returns the deduplication key: the slug alone for general
// permissions, slug|resourceType|resourceId for instance permissions.
func (p Permission) IdentityKey() string {
	if p.IsInstance() {
		return InstanceKey(p.Slug, *p.ResourceType, *p.ResourceID)
	}
	return p.Slug
}

// InstanceKey composes the identity key for an instance permission.
func InstanceKey(slug, resourceType, resourceID string) string {
	return fmt.Sprintf("%s|%s|%s", slug, resourceType, resourceID)
}

// Scope rule operators.
const (
	OpEq = "eq"
	OpIn = "in"
)

// ScopeRule is one declarative filter inside a CUSTOM scope config.
type ScopeRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ScopeConfig carries the per-type configuration of a data scope. Field
// overrides apply to PERSONAL/DEPARTMENT/ORGANIZATION; Rules apply to CUSTOM.
type ScopeConfig struct {
	OwnerField      string      `json:"owner_field,omitempty"`
	DepartmentField string      `json:"department_field,omitempty"`
	OrgField        string      `json:"org_field,omitempty"`
	Rules           []ScopeRule `json:"rules,omitempty"`
}

// DataScope constrains which records a permission holder may see or affect.
type DataScope struct {
	ID        int64
	Slug      string
	Name      string
	Type      ScopeType
	Config    ScopeConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Default record field names used by scope rules when config carries no
// override.
const (
	DefaultOwnerField      = "owner_id"
	DefaultDepartmentField = "department_id"
	DefaultOrgField        = "organization_id"
)

// OwnerField returns the configured or default owner column.
func (s DataScope) OwnerField() string {
	if s.Config.OwnerField != "" {
		return s.Config.OwnerField
	}
	return DefaultOwnerField
}

// DepartmentField returns the configured or default department column.
func (s DataScope) DepartmentField() string {
	if s.Config.DepartmentField != "" {
		return s.Config.DepartmentField
	}
	return DefaultDepartmentField
}

// OrgField returns the configured or default organization column.
func (s DataScope) OrgField() string {
	if s.Config.OrgField != "" {
		return s.Config.OrgField
	}
	return DefaultOrgField
}
