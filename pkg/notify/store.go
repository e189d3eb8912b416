package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

// Inbox persists notifications so users can list them later.
type Inbox interface {
	Notifier
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

type postgresInbox struct {
	pool *pgxpool.Pool
}

func NewPostgresInbox(pool *pgxpool.Pool) Inbox {
	return &postgresInbox{pool: pool}
}

func (r *postgresInbox) Notify(ctx context.Context, n Notification) error {
	query := `INSERT INTO notifications (user_id, title, body, entity_type, entity_id)
              VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, n.UserID, n.Title, n.Body, n.EntityType, n.EntityID); err != nil {
		return apperr.Transient("insert notification", err)
	}
	return nil
}

func (r *postgresInbox) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT id::text, user_id::text, title, body, entity_type, entity_id, is_read, created_at
              FROM notifications
              WHERE user_id = $1
              ORDER BY created_at DESC
              LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, apperr.Transient("list notifications", err)
	}
	defer rows.Close()

	list := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.EntityType, &n.EntityID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, apperr.Transient("scan notification", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate notifications", err)
	}
	return list, nil
}

func (r *postgresInbox) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, apperr.Transient("count notifications", err)
	}
	return count, nil
}

func (r *postgresInbox) MarkRead(ctx context.Context, userID, notificationID string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = true WHERE id::text = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return apperr.Transient("mark notification read", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("notification")
	}
	return nil
}
