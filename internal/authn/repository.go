package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guardpost/guardpost/internal/shared"
)

// Repository persists service tokens in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a newly issued token.
func (r *Repository) Insert(ctx context.Context, token ServiceToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO service_tokens (id, principal_id, label, secret_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.PrincipalID, token.Label, token.SecretHash, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("authn: insert token: %w", err)
	}
	return nil
}

// Get fetches a token by id, revoked or not.
func (r *Repository) Get(ctx context.Context, id string) (ServiceToken, error) {
	var token ServiceToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, principal_id, label, secret_hash, expires_at, revoked_at, created_at
		 FROM service_tokens WHERE id = $1`, id).
		Scan(&token.ID, &token.PrincipalID, &token.Label, &token.SecretHash,
			&token.ExpiresAt, &token.RevokedAt, &token.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceToken{}, shared.ErrNotFound
	}
	if err != nil {
		return ServiceToken{}, fmt.Errorf("authn: get token: %w", err)
	}
	return token, nil
}

// Revoke marks a token unusable from now on.
func (r *Repository) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE service_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, now)
	if err != nil {
		return fmt.Errorf("authn: revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
