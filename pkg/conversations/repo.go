package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

type Repository interface {
	// FindOrCreate returns the conversation between requester and other, creating it atomically.
	FindOrCreate(ctx context.Context, requester, other, subject string) (Conversation, bool, error)
	// FindOrCreateByScan is the scan-then-insert path for backends without keyed upsert.
	//
	// Deprecated: racy under concurrent creation; use FindOrCreate.
	FindOrCreateByScan(ctx context.Context, requester, other, subject string) (Conversation, bool, error)
	ListFor(ctx context.Context, userID string) ([]Summary, error)
	Get(ctx context.Context, conversationID string) (Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Hide(ctx context.Context, conversationID, userID string) error
	SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const selectConversation = `SELECT id::text, subject, COALESCE(conversation_key, ''), last_message, last_activity_at, created_at FROM conversations`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Subject, &c.ConversationKey, &c.LastMessage, &c.LastActivityAt, &c.CreatedAt)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresRepository) FindOrCreate(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	key := Key(requester, other)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, false, apperr.Transient("begin conversation tx", err)
	}
	defer tx.Rollback(ctx)

	// A concurrent creator holding the same key makes this wait, then DO NOTHING.
	var id string
	err = tx.QueryRow(ctx, `INSERT INTO conversations (id, subject, conversation_key)
                            VALUES ($1, $2, $3)
                            ON CONFLICT (conversation_key) DO NOTHING
                            RETURNING id::text`, uuid.NewString(), subject, key).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		conv, err := scanConversation(tx.QueryRow(ctx, selectConversation+` WHERE conversation_key = $1`, key))
		if err != nil {
			return Conversation{}, false, apperr.Transient("load existing conversation", err)
		}
		if err := unhide(ctx, tx, conv.ID, requester); err != nil {
			return Conversation{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Conversation{}, false, apperr.Transient("commit conversation tx", err)
		}
		return conv, false, nil
	case err != nil:
		return Conversation{}, false, apperr.Transient("insert conversation", err)
	}

	if err := insertParticipants(ctx, tx, id, requester, other); err != nil {
		return Conversation{}, false, err
	}
	conv, err := scanConversation(tx.QueryRow(ctx, selectConversation+` WHERE id = $1`, id))
	if err != nil {
		return Conversation{}, false, apperr.Transient("load new conversation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, false, apperr.Transient("commit conversation tx", err)
	}
	return conv, true, nil
}

func (r *postgresRepository) FindOrCreateByScan(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	conv, found, err := r.scanPair(ctx, requester, other)
	if err != nil {
		return Conversation{}, false, err
	}
	if found {
		if _, err := r.pool.Exec(ctx, unhideSQL, conv.ID, requester); err != nil {
			return Conversation{}, false, apperr.Transient("unhide conversation", err)
		}
		return conv, false, nil
	}

	conv, err = r.insertWithParticipants(ctx, requester, other, subject)
	if err == nil {
		return conv, true, nil
	}
	if !isUniqueViolation(err) {
		return Conversation{}, false, err
	}

	// lost the race: the winner's row is committed now
	conv, found, err = r.scanPair(ctx, requester, other)
	if err != nil {
		return Conversation{}, false, err
	}
	if !found {
		return Conversation{}, false, apperr.Transient("conversation vanished after conflict", nil)
	}
	return conv, false, nil
}

func (r *postgresRepository) scanPair(ctx context.Context, a, b string) (Conversation, bool, error) {
	query := `SELECT c.id::text, c.subject, COALESCE(c.conversation_key, ''), c.last_message, c.last_activity_at, c.created_at
              FROM conversations c
              JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
              JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
              ORDER BY c.created_at ASC
              LIMIT 1`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, a, b))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, apperr.Transient("scan conversations", err)
	}
	return conv, true, nil
}

func (r *postgresRepository) insertWithParticipants(ctx context.Context, a, b, subject string) (Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, apperr.Transient("begin conversation tx", err)
	}
	defer tx.Rollback(ctx)

	conv, err := scanConversation(tx.QueryRow(ctx, `INSERT INTO conversations (id, subject, conversation_key)
                                                   VALUES ($1, $2, $3)
                                                   RETURNING id::text, subject, COALESCE(conversation_key, ''), last_message, last_activity_at, created_at`,
		uuid.NewString(), subject, Key(a, b)))
	if err != nil {
		if isUniqueViolation(err) {
			return Conversation{}, err
		}
		return Conversation{}, apperr.Transient("insert conversation", err)
	}
	if err := insertParticipants(ctx, tx, conv.ID, a, b); err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, apperr.Transient("commit conversation tx", err)
	}
	return conv, nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, conversationID, a, b string) error {
	_, err := tx.Exec(ctx, `INSERT INTO conversation_participants (conversation_id, user_id)
                            VALUES ($1, $2), ($1, $3)`, conversationID, a, b)
	if err != nil {
		return apperr.Transient("insert participants", err)
	}
	return nil
}

const unhideSQL = `UPDATE conversation_participants SET hidden_at = NULL
                   WHERE conversation_id = $1 AND user_id = $2 AND hidden_at IS NOT NULL`

func unhide(ctx context.Context, tx pgx.Tx, conversationID, userID string) error {
	if _, err := tx.Exec(ctx, unhideSQL, conversationID, userID); err != nil {
		return apperr.Transient("unhide conversation", err)
	}
	return nil
}

func (r *postgresRepository) ListFor(ctx context.Context, userID string) ([]Summary, error) {
	query := `SELECT c.id::text, c.subject, c.last_message, c.last_activity_at, c.created_at,
                     me.is_pinned, other.user_id::text,
                     (SELECT COUNT(*) FROM messages m
                      WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread_count
              FROM conversation_participants me
              JOIN conversations c ON c.id = me.conversation_id
              JOIN conversation_participants other ON other.conversation_id = c.id AND other.user_id <> me.user_id
              WHERE me.user_id = $1 AND me.hidden_at IS NULL
              ORDER BY me.is_pinned DESC, c.last_activity_at DESC, c.id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, apperr.Transient("list conversations", err)
	}
	defer rows.Close()

	list := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Subject, &s.LastMessage, &s.LastActivityAt, &s.CreatedAt, &s.IsPinned, &s.PeerID, &s.UnreadCount); err != nil {
			return nil, apperr.Transient("scan conversation", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate conversations", err)
	}
	return list, nil
}

func (r *postgresRepository) Get(ctx context.Context, conversationID string) (Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return Conversation{}, apperr.NotFound("conversation")
	}
	conv, err := scanConversation(r.pool.QueryRow(ctx, selectConversation+` WHERE id = $1`, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, apperr.NotFound("conversation")
		}
		return Conversation{}, apperr.Transient("load conversation", err)
	}
	return conv, nil
}

func (r *postgresRepository) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	rows, err := r.pool.Query(ctx, `SELECT conversation_id::text, user_id::text, joined_at, is_pinned, hidden_at
                                    FROM conversation_participants
                                    WHERE conversation_id = $1
                                    ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, apperr.Transient("list participants", err)
	}
	defer rows.Close()

	list := make([]Participant, 0, 2)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.IsPinned, &p.HiddenAt); err != nil {
			return nil, apperr.Transient("scan participant", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate participants", err)
	}
	return list, nil
}

func (r *postgresRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
                                     SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
                                 )`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, apperr.Transient("check participant", err)
	}
	return ok, nil
}

func (r *postgresRepository) Hide(ctx context.Context, conversationID, userID string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE conversation_participants SET hidden_at = COALESCE(hidden_at, NOW())
                                  WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		return apperr.Transient("hide conversation", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("participant")
	}
	return nil
}

func (r *postgresRepository) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE conversation_participants SET is_pinned = $3
                                  WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, pinned)
	if err != nil {
		return apperr.Transient(fmt.Sprintf("set pinned=%t", pinned), err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("participant")
	}
	return nil
}
