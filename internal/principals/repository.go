// Package principals resolves principal attributes consumed by data-scope
// rules. Principal lifecycle is owned by the surrounding application; this
// store only reads the attributes the authorization core needs.
package principals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guardpost/guardpost/internal/shared"
)

// Repository provides PostgreSQL backed attribute lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Attributes loads a principal's scope attributes. Unknown principals yield a
// zero Principal, not an error: scope evaluation fails closed on top of it.
func (r *Repository) Attributes(ctx context.Context, principalID int64) (shared.Principal, error) {
	principal := shared.Principal{ID: principalID}
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id, super_admin FROM principals WHERE id = $1`,
		principalID).Scan(&principal.OrganizationID, &principal.SuperAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Principal{ID: principalID}, nil
	}
	if err != nil {
		return shared.Principal{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT department_id FROM principal_departments WHERE principal_id = $1 ORDER BY department_id`,
		principalID)
	if err != nil {
		return shared.Principal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return shared.Principal{}, err
		}
		principal.DepartmentIDs = append(principal.DepartmentIDs, id)
	}
	return principal, rows.Err()
}
