package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guardpost/guardpost/internal/shared"
)

// Queryer is satisfied by both *pgxpool.Pool and pgx.Tx so repository methods
// run inside or outside a transaction unchanged.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	pool *pgxpool.Pool
	db   Queryer
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// WithTx runs fn against a repository bound to a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, *Repository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &Repository{pool: r.pool, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog: commit tx: %w", err)
	}
	return nil
}

const roleColumns = `id, slug, guard_namespace, name, description, enabled, created_at, updated_at, deleted_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Slug, &role.GuardNamespace, &role.Name, &role.Description,
		&role.Enabled, &role.CreatedAt, &role.UpdatedAt, &role.DeletedAt)
	return role, err
}

// GetRole fetches a role by id. Soft-deleted roles are invisible.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.db.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

// ListRoles returns all live roles ordered by slug.
func (r *Repository) ListRoles(ctx context.Context, guardNamespace string) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE deleted_at IS NULL AND guard_namespace = $1 ORDER BY slug`,
		guardNamespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RolesByIDs fetches live roles for the given ids, preserving input order.
// Missing ids are simply absent from the result.
func (r *Repository) RolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[int64]Role, len(ids))
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		byID[role.ID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ordered := make([]Role, 0, len(byID))
	for _, id := range ids {
		if role, ok := byID[id]; ok {
			ordered = append(ordered, role)
		}
	}
	return ordered, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO roles (slug, guard_namespace, name, description, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+roleColumns,
		role.Slug, role.GuardNamespace, role.Name, role.Description, role.Enabled)
	return scanRole(row)
}

// UpdateRole updates mutable role fields.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, enabled = $4, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.Enabled)
	updated, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return updated, err
}

// SoftDeleteRole marks a role deleted. Returns ErrNotFound when already gone.
func (r *Repository) SoftDeleteRole(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE roles SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const permissionColumns = `id, slug, guard_namespace, name, description, resource_type, resource_id, metadata, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	var metadata []byte
	err := row.Scan(&perm.ID, &perm.Slug, &perm.GuardNamespace, &perm.Name, &perm.Description,
		&perm.ResourceType, &perm.ResourceID, &metadata, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return Permission{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &perm.Metadata); err != nil {
			return Permission{}, fmt.Errorf("catalog: decode permission metadata: %w", err)
		}
	}
	return perm, nil
}

// GetPermission fetches a permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := scanPermission(r.db.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return perm, err
}

// ListPermissions returns all permissions in a guard namespace ordered by slug.
func (r *Repository) ListPermissions(ctx context.Context, guardNamespace string) ([]Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE guard_namespace = $1 ORDER BY slug, resource_type NULLS FIRST, resource_id NULLS FIRST`,
		guardNamespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// PermissionsByIDs fetches permissions for the given ids.
func (r *Repository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// GeneralBySlugs batch-fetches general (base) permissions by slug.
func (r *Repository) GeneralBySlugs(ctx context.Context, guardNamespace string, slugs []string) (map[string]Permission, error) {
	if len(slugs) == 0 {
		return map[string]Permission{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+permissionColumns+` FROM permissions
		WHERE guard_namespace = $1 AND slug = ANY($2) AND resource_type IS NULL AND resource_id IS NULL`,
		guardNamespace, slugs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, err
	}
	bySlug := make(map[string]Permission, len(perms))
	for _, p := range perms {
		bySlug[p.Slug] = p
	}
	return bySlug, nil
}

// InstanceByKeys batch-fetches instance permissions matching the given
// (slug, resourceType, resourceID) triples, keyed by identity key.
func (r *Repository) InstanceByKeys(ctx context.Context, guardNamespace string, slugs, resourceTypes, resourceIDs []string) (map[string]Permission, error) {
	if len(slugs) == 0 {
		return map[string]Permission{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+permissionColumns+` FROM permissions
		WHERE guard_namespace = $1
		  AND (slug, resource_type, resource_id) IN (
			SELECT * FROM unnest($2::text[], $3::text[], $4::text[])
		  )`,
		guardNamespace, slugs, resourceTypes, resourceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]Permission, len(perms))
	for _, p := range perms {
		byKey[p.IdentityKey()] = p
	}
	return byKey, nil
}

// CreatePermission inserts one permission record.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	metadata, err := json.Marshal(perm.Metadata)
	if err != nil {
		return Permission{}, fmt.Errorf("catalog: encode permission metadata: %w", err)
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO permissions (slug, guard_namespace, name, description, resource_type, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+permissionColumns,
		perm.Slug, perm.GuardNamespace, perm.Name, perm.Description, perm.ResourceType, perm.ResourceID, metadata)
	return scanPermission(row)
}

// InsertPermissions batch-inserts permissions, ignoring rows that already
// exist. Conflict tolerance makes the instance-permission factory idempotent.
func (r *Repository) InsertPermissions(ctx context.Context, perms []Permission) error {
	for _, perm := range perms {
		metadata, err := json.Marshal(perm.Metadata)
		if err != nil {
			return fmt.Errorf("catalog: encode permission metadata: %w", err)
		}
		_, err = r.db.Exec(ctx, `
			INSERT INTO permissions (slug, guard_namespace, name, description, resource_type, resource_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (slug, guard_namespace, resource_type, resource_id) DO NOTHING`,
			perm.Slug, perm.GuardNamespace, perm.Name, perm.Description, perm.ResourceType, perm.ResourceID, metadata)
		if err != nil {
			return err
		}
	}
	return nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

const scopeColumns = `id, slug, name, type, config, created_at, updated_at`

func scanDataScope(row pgx.Row) (DataScope, error) {
	var scope DataScope
	var config []byte
	err := row.Scan(&scope.ID, &scope.Slug, &scope.Name, &scope.Type, &config, &scope.CreatedAt, &scope.UpdatedAt)
	if err != nil {
		return DataScope{}, err
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &scope.Config); err != nil {
			return DataScope{}, fmt.Errorf("catalog: decode scope config: %w", err)
		}
	}
	return scope, nil
}

// GetDataScope fetches a data scope by id.
func (r *Repository) GetDataScope(ctx context.Context, id int64) (DataScope, error) {
	scope, err := scanDataScope(r.db.QueryRow(ctx,
		`SELECT `+scopeColumns+` FROM data_scopes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DataScope{}, shared.ErrNotFound
	}
	return scope, err
}

// ListDataScopes returns all data scopes ordered by slug.
func (r *Repository) ListDataScopes(ctx context.Context) ([]DataScope, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scopeColumns+` FROM data_scopes ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDataScopes(rows)
}

// DataScopesByIDs fetches data scopes for the given ids.
func (r *Repository) DataScopesByIDs(ctx context.Context, ids []int64) ([]DataScope, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+scopeColumns+` FROM data_scopes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDataScopes(rows)
}

// CreateDataScope inserts a new data scope.
func (r *Repository) CreateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	config, err := json.Marshal(scope.Config)
	if err != nil {
		return DataScope{}, fmt.Errorf("catalog: encode scope config: %w", err)
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO data_scopes (slug, name, type, config)
		VALUES ($1, $2, $3, $4)
		RETURNING `+scopeColumns,
		scope.Slug, scope.Name, scope.Type, config)
	return scanDataScope(row)
}

// UpdateDataScope updates mutable scope fields.
func (r *Repository) UpdateDataScope(ctx context.Context, scope DataScope) (DataScope, error) {
	config, err := json.Marshal(scope.Config)
	if err != nil {
		return DataScope{}, fmt.Errorf("catalog: encode scope config: %w", err)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE data_scopes SET name = $2, type = $3, config = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+scopeColumns,
		scope.ID, scope.Name, scope.Type, config)
	updated, err := scanDataScope(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DataScope{}, shared.ErrNotFound
	}
	return updated, err
}

// DeleteDataScope removes a data scope.
func (r *Repository) DeleteDataScope(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM data_scopes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func collectDataScopes(rows pgx.Rows) ([]DataScope, error) {
	var scopes []DataScope
	for rows.Next() {
		scope, err := scanDataScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}
