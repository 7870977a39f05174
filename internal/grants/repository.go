package grants

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for grant edges.
type Repository struct {
	pool *pgxpool.Pool
	db   Queryer
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// TxGraph exposes the edge mutations available inside a transaction.
type TxGraph interface {
	AttachPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error
	DetachPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error
	DetachAllPrincipalRoles(ctx context.Context, principalID int64) error

	AttachPrincipalPermissions(ctx context.Context, principalID int64, permissionIDs []int64) error
	DetachPrincipalPermissions(ctx context.Context, principalID int64, permissionIDs []int64) error
	DetachAllPrincipalPermissions(ctx context.Context, principalID int64) error

	AttachScopes(ctx context.Context, target Target, targetID int64, grants []ScopeGrant) error
	DetachScopes(ctx context.Context, target Target, targetID int64, scopeIDs []int64) error
	DetachAllScopes(ctx context.Context, target Target, targetID int64) error

	AttachRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachAllRolePermissions(ctx context.Context, roleID int64) error
}

// WithTx runs fn against a repeatable-read transaction. Edge mutations that
// span several writes stay atomic: a failed sync never leaves a role half
// replaced.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxGraph) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("grants: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &Repository{pool: r.pool, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("grants: commit tx: %w", err)
	}
	return nil
}

// scopeEdgeTables maps a target kind to its edge table and owning column.
var scopeEdgeTables = map[Target]struct {
	table  string
	column string
}{
	TargetPrincipal:  {"principal_data_scopes", "principal_id"},
	TargetRole:       {"role_data_scopes", "role_id"},
	TargetPermission: {"permission_data_scopes", "permission_id"},
}

// RoleIDsForPrincipal returns the principal's role ids in assignment order.
// Resolution depends on this ordering being stable.
func (r *Repository) RoleIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	return r.collectIDs(ctx,
		`SELECT role_id FROM principal_roles WHERE principal_id = $1 ORDER BY created_at, role_id`, principalID)
}

// PrincipalIDsForRole returns every principal presently holding the role.
// Cache invalidation fans out through this set.
func (r *Repository) PrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collectIDs(ctx,
		`SELECT principal_id FROM principal_roles WHERE role_id = $1 ORDER BY principal_id`, roleID)
}

// DirectPermissionIDs returns the principal's directly granted permission ids
// in assignment order.
func (r *Repository) DirectPermissionIDs(ctx context.Context, principalID int64) ([]int64, error) {
	return r.collectIDs(ctx,
		`SELECT permission_id FROM principal_permissions WHERE principal_id = $1 ORDER BY created_at, permission_id`, principalID)
}

// RolePermissionIDs returns permission ids attached to one role.
func (r *Repository) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collectIDs(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY created_at, permission_id`, roleID)
}

// ScopeGrants returns the data-scope edges attached to a principal, role, or
// permission, in assignment order.
func (r *Repository) ScopeGrants(ctx context.Context, target Target, targetID int64) ([]ScopeGrant, error) {
	edge, ok := scopeEdgeTables[target]
	if !ok {
		return nil, fmt.Errorf("grants: unknown scope target %q", target)
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT data_scope_id, edge_constraint FROM %s WHERE %s = $1 ORDER BY created_at, data_scope_id`,
		edge.table, edge.column), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []ScopeGrant
	for rows.Next() {
		var grant ScopeGrant
		if err := rows.Scan(&grant.ScopeID, &grant.Constraint); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// AttachPrincipalRoles adds role edges, ignoring ones that already exist.
func (r *Repository) AttachPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO principal_roles (principal_id, role_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, principalID, roleID)
		if err != nil {
			return err
		}
	}
	return nil
}

// DetachPrincipalRoles removes specific role edges. Nonexistent edges no-op.
func (r *Repository) DetachPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = ANY($2)`, principalID, roleIDs)
	return err
}

// DetachAllPrincipalRoles removes every role edge for the principal.
func (r *Repository) DetachAllPrincipalRoles(ctx context.Context, principalID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM principal_roles WHERE principal_id = $1`, principalID)
	return err
}

// AttachPrincipalPermissions adds direct permission edges.
func (r *Repository) AttachPrincipalPermissions(ctx context.Context, principalID int64, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO principal_permissions (principal_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, principalID, permID)
		if err != nil {
			return err
		}
	}
	return nil
}

// DetachPrincipalPermissions removes specific direct permission edges.
func (r *Repository) DetachPrincipalPermissions(ctx context.Context, principalID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM principal_permissions WHERE principal_id = $1 AND permission_id = ANY($2)`, principalID, permissionIDs)
	return err
}

// DetachAllPrincipalPermissions removes every direct permission edge.
func (r *Repository) DetachAllPrincipalPermissions(ctx context.Context, principalID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM principal_permissions WHERE principal_id = $1`, principalID)
	return err
}

// AttachScopes adds data-scope edges for a principal, role, or permission.
func (r *Repository) AttachScopes(ctx context.Context, target Target, targetID int64, grants []ScopeGrant) error {
	edge, ok := scopeEdgeTables[target]
	if !ok {
		return fmt.Errorf("grants: unknown scope target %q", target)
	}
	for _, grant := range grants {
		// edge_constraint is NOT NULL; an absent constraint is the empty string.
		_, err := r.db.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, data_scope_id, edge_constraint) VALUES ($1, $2, $3)
			ON CONFLICT (%s, data_scope_id) DO UPDATE SET edge_constraint = EXCLUDED.edge_constraint`,
			edge.table, edge.column, edge.column), targetID, grant.ScopeID, grant.Constraint)
		if err != nil {
			return err
		}
	}
	return nil
}

// DetachScopes removes specific data-scope edges.
func (r *Repository) DetachScopes(ctx context.Context, target Target, targetID int64, scopeIDs []int64) error {
	if len(scopeIDs) == 0 {
		return nil
	}
	edge, ok := scopeEdgeTables[target]
	if !ok {
		return fmt.Errorf("grants: unknown scope target %q", target)
	}
	_, err := r.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND data_scope_id = ANY($2)`, edge.table, edge.column),
		targetID, scopeIDs)
	return err
}

// DetachAllScopes removes every data-scope edge for the target.
func (r *Repository) DetachAllScopes(ctx context.Context, target Target, targetID int64) error {
	edge, ok := scopeEdgeTables[target]
	if !ok {
		return fmt.Errorf("grants: unknown scope target %q", target)
	}
	_, err := r.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1`, edge.table, edge.column), targetID)
	return err
}

// AttachRolePermissions adds permission edges to a role.
func (r *Repository) AttachRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, roleID, permID)
		if err != nil {
			return err
		}
	}
	return nil
}

// DetachRolePermissions removes specific permission edges from a role.
func (r *Repository) DetachRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`, roleID, permissionIDs)
	return err
}

// DetachAllRolePermissions removes every permission edge from a role.
func (r *Repository) DetachAllRolePermissions(ctx context.Context, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

func (r *Repository) collectIDs(ctx context.Context, sql string, args ...any) ([]int64, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
