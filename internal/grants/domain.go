// Package grants owns the many-to-many association edges between principals,
// roles, permissions, and data scopes, and the assign/revoke/sync mutation
// rules applied to them.
package grants

import "github.com/guardpost/guardpost/internal/shared"

// ScopeGrant aliases the shared edge row so graph ports built from the
// shared holder interfaces line up with this package's mutation API.
type ScopeGrant = shared.ScopeGrant

// Target distinguishes which node kind a data-scope mutation applies to.
type Target = shared.Target

const (
	TargetPrincipal  = shared.TargetPrincipal
	TargetRole       = shared.TargetRole
	TargetPermission = shared.TargetPermission
)
