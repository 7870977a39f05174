package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (actor_id, action, target, target_id, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ActorID, entry.Action, entry.Target, entry.TargetID, detail)
	return err
}

// Window returns entries matching the filters, newest first.
func (r *Repository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, target, target_id, detail, created_at
		FROM audit_entries
		WHERE ($1::bigint IS NULL OR actor_id = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC, id DESC
		OFFSET $5 LIMIT $6`,
		filters.Actor, filters.Action, nullableTime(filters.From), nullableTime(filters.To), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var detail []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Target, &entry.TargetID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("audit: decode detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteBefore prunes entries older than the cutoff, returning the count.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
