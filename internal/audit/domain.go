// Package audit records grant mutations: who changed which edge, when, and
// with what payload.
package audit

import "time"

// Entry is one recorded mutation.
type Entry struct {
	ID        int64
	ActorID   int64
	Action    string
	Target    string
	TargetID  int64
	Detail    map[string]any
	CreatedAt time.Time
}

// Actions recorded by the grant graph and the instance-permission factory.
const (
	ActionAssignRoles         = "roles.assign"
	ActionRevokeRoles         = "roles.revoke"
	ActionSyncRoles           = "roles.sync"
	ActionAssignPermissions   = "permissions.assign"
	ActionRevokePermissions   = "permissions.revoke"
	ActionSyncPermissions     = "permissions.sync"
	ActionAssignDataScopes    = "data_scopes.assign"
	ActionRevokeDataScopes    = "data_scopes.revoke"
	ActionSyncDataScopes      = "data_scopes.sync"
	ActionCreateInstancePerms = "instance_permissions.create"
)

// TimelineFilters narrow a timeline listing.
type TimelineFilters struct {
	Actor    *int64
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo describes the timeline page returned.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles timeline rows with paging metadata.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}
