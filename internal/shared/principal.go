package shared

import "context"

// Principal describes the authenticated actor as seen by the authorization
// core. Lifecycle is owned by the caller; the core only consumes attributes.
type Principal struct {
	ID             int64
	OrganizationID *int64
	DepartmentIDs  []int64
	SuperAdmin     bool
}

// Target distinguishes which node kind a grant-edge operation applies to.
type Target string

const (
	TargetPrincipal  Target = "principal"
	TargetRole       Target = "role"
	TargetPermission Target = "permission"
)

// ScopeGrant is a data-scope edge row: the scope id plus the optional
// free-form constraint string carried on the edge.
type ScopeGrant struct {
	ScopeID    int64
	Constraint string
}

// RoleHolder exposes role membership for a principal.
type RoleHolder interface {
	RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error)
}

// PermissionHolder exposes direct permission grants for a principal.
type PermissionHolder interface {
	DirectPermissionIDs(ctx context.Context, principalID int64) ([]int64, error)
}

// DataScopeHolder exposes data-scope edges for a principal, role, or
// permission. Ports that read the grant graph compose from these holders.
type DataScopeHolder interface {
	ScopeGrants(ctx context.Context, target Target, targetID int64) ([]ScopeGrant, error)
}

// AttributeProvider resolves principal attributes needed by data-scope rules.
// Implementations must not fail on unknown principals; they return a zero
// Principal so scope evaluation degrades to no access.
type AttributeProvider interface {
	Attributes(ctx context.Context, principalID int64) (Principal, error)
}
