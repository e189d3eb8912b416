package messages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

type MessageStore interface {
	// Insert stores the message and touches its conversation in one transaction. A repeated
	// (sender_id, request_id) returns the stored row with created=false.
	Insert(ctx context.Context, m Message) (Message, bool, error)
	Get(ctx context.Context, messageID string) (Message, error)
	MarkDelivered(ctx context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error)
	MarkSeen(ctx context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
	History(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error)
}

type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

const messageColumns = `id::text, conversation_id::text, sender_id::text, request_id, content, message_type,
                        offer_id::text, created_at, delivered_at, seen_at, read_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RequestID, &m.Content, &m.MessageType,
		&m.OfferID, &m.CreatedAt, &m.DeliveredAt, &m.SeenAt, &m.ReadAt)
	if err != nil {
		return Message{}, err
	}
	m.Status = m.DeliveryStatus()
	return m, nil
}

func (r *PostgresMessageStore) Insert(ctx context.Context, m Message) (Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctxTimeout)
	if err != nil {
		return Message{}, false, apperr.Transient("begin message tx", err)
	}
	defer tx.Rollback(ctxTimeout)

	const insertSQL = `
		INSERT INTO messages (id, conversation_id, sender_id, request_id, content, message_type, offer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT messages_sender_request_key DO NOTHING
		RETURNING ` + messageColumns

	stored, err := scanMessage(tx.QueryRow(ctxTimeout, insertSQL,
		m.ID, m.ConversationID, m.SenderID, m.RequestID, m.Content, m.MessageType, m.OfferID, m.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanMessage(tx.QueryRow(ctxTimeout,
			`SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 AND request_id = $2`, m.SenderID, m.RequestID))
		if err != nil {
			return Message{}, false, apperr.Transient("load duplicate message", err)
		}
		if err := tx.Commit(ctxTimeout); err != nil {
			return Message{}, false, apperr.Transient("commit message tx", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return Message{}, false, apperr.Transient("insert message", err)
	}

	// last_activity_at never moves backwards; the preview follows the newest message.
	const touchSQL = `
		UPDATE conversations
		SET last_message = CASE WHEN $3 >= last_activity_at THEN $2 ELSE last_message END,
		    last_activity_at = GREATEST(last_activity_at, $3)
		WHERE id = $1`
	if _, err := tx.Exec(ctxTimeout, touchSQL, stored.ConversationID, stored.Preview(), stored.CreatedAt); err != nil {
		return Message{}, false, apperr.Transient("touch conversation", err)
	}
	// a new message resurfaces a conversation either participant had hidden
	if _, err := tx.Exec(ctxTimeout, `UPDATE conversation_participants SET hidden_at = NULL
                                      WHERE conversation_id = $1 AND hidden_at IS NOT NULL`, stored.ConversationID); err != nil {
		return Message{}, false, apperr.Transient("unhide conversation", err)
	}

	if err := tx.Commit(ctxTimeout); err != nil {
		return Message{}, false, apperr.Transient("commit message tx", err)
	}
	return stored, true, nil
}

func (r *PostgresMessageStore) Get(ctx context.Context, messageID string) (Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return Message{}, apperr.NotFound("message")
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, apperr.NotFound("message")
		}
		return Message{}, apperr.Transient("load message", err)
	}
	return m, nil
}

// MarkDelivered stamps delivered_at on the reader's incoming messages that lack it.
func (r *PostgresMessageStore) MarkDelivered(ctx context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	const updateSQL = `
		UPDATE messages
		SET delivered_at = $4
		WHERE conversation_id = $1 AND sender_id <> $2 AND id::text = ANY($3) AND delivered_at IS NULL
		RETURNING id::text`
	return r.updateReturningIDs(ctx, "mark delivered", updateSQL, conversationID, readerID, messageIDs, at)
}

// MarkSeen stamps seen_at, filling delivered_at first when it was skipped.
func (r *PostgresMessageStore) MarkSeen(ctx context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	const updateSQL = `
		UPDATE messages
		SET delivered_at = COALESCE(delivered_at, $4),
		    seen_at = $4
		WHERE conversation_id = $1 AND sender_id <> $2 AND id::text = ANY($3) AND seen_at IS NULL
		RETURNING id::text`
	return r.updateReturningIDs(ctx, "mark seen", updateSQL, conversationID, readerID, messageIDs, at)
}

// MarkConversationRead clears the reader's unread counter for the whole conversation.
func (r *PostgresMessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	const updateSQL = `
		UPDATE messages
		SET delivered_at = COALESCE(delivered_at, $3),
		    seen_at = COALESCE(seen_at, $3),
		    read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
		RETURNING id::text`
	return r.updateReturningIDs(ctx, "mark conversation read", updateSQL, conversationID, readerID, at)
}

func (r *PostgresMessageStore) updateReturningIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctxTimeout, query, args...)
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transient(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient(op, err)
	}
	return ids, nil
}

// History returns up to limit messages older than before (all when nil), oldest first.
func (r *PostgresMessageStore) History(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100 // Cap at 100
	}

	const querySQL = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctxTimeout, querySQL, conversationID, before, limit)
	if err != nil {
		return nil, apperr.Transient("query conversation history", err)
	}
	defer rows.Close()

	result := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Transient("scan message", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate messages", err)
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}
