package presence

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

type Repository interface {
	// Upsert stores the flag and returns the record it replaced; found is false for first contact.
	Upsert(ctx context.Context, userID string, online bool, at time.Time) (prev Record, found bool, err error)
	Lookup(ctx context.Context, ids []string) (map[string]Record, error)
	ListOnline(ctx context.Context, seenSince time.Time) ([]Record, error)
	// MarkStaleOffline clears online flags whose heartbeat is older than before.
	MarkStaleOffline(ctx context.Context, before time.Time) ([]string, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Upsert(ctx context.Context, userID string, online bool, at time.Time) (Record, bool, error) {
	query := `WITH prev AS (
                  SELECT is_online, last_seen_at FROM user_presence WHERE user_id = $1
              )
              INSERT INTO user_presence (user_id, is_online, last_seen_at)
              VALUES ($1, $2, $3)
              ON CONFLICT (user_id) DO UPDATE
              SET is_online = EXCLUDED.is_online, last_seen_at = EXCLUDED.last_seen_at
              RETURNING (SELECT is_online FROM prev), (SELECT last_seen_at FROM prev)`

	var prevOnline *bool
	var prevSeen *time.Time
	if err := r.pool.QueryRow(ctx, query, userID, online, at).Scan(&prevOnline, &prevSeen); err != nil {
		return Record{}, false, apperr.Transient("touch presence", err)
	}
	if prevOnline == nil || prevSeen == nil {
		return Record{UserID: userID}, false, nil
	}
	return Record{UserID: userID, IsOnline: *prevOnline, LastSeenAt: *prevSeen}, true, nil
}

func (r *postgresRepository) Lookup(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT user_id::text, is_online, last_seen_at FROM user_presence WHERE user_id::text = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Transient("lookup presence", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UserID, &rec.IsOnline, &rec.LastSeenAt); err != nil {
			return nil, apperr.Transient("scan presence", err)
		}
		out[rec.UserID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate presence", err)
	}
	return out, nil
}

func (r *postgresRepository) ListOnline(ctx context.Context, seenSince time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id::text, is_online, last_seen_at
                                    FROM user_presence
                                    WHERE is_online AND last_seen_at >= $1
                                    ORDER BY last_seen_at DESC`, seenSince)
	if err != nil {
		return nil, apperr.Transient("list online users", err)
	}
	defer rows.Close()

	list := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UserID, &rec.IsOnline, &rec.LastSeenAt); err != nil {
			return nil, apperr.Transient("scan presence", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate presence", err)
	}
	return list, nil
}

func (r *postgresRepository) MarkStaleOffline(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `UPDATE user_presence SET is_online = false
                                    WHERE is_online AND last_seen_at < $1
                                    RETURNING user_id::text`, before)
	if err != nil {
		return nil, apperr.Transient("sweep presence", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transient("scan presence", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate presence", err)
	}
	return ids, nil
}
