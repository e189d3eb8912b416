package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

type Repository interface {
	// Insert stores a new offer. An offer with a request id the buyer already used is not stored
	// again; the first one is returned with created false.
	Insert(ctx context.Context, o Offer) (Offer, bool, error)
	Get(ctx context.Context, offerID string) (Offer, error)
	// UpdateStatus moves the offer from one status to another only if it is still in from.
	// A lost race returns an invalid transition carrying the status that won.
	UpdateStatus(ctx context.Context, offerID, from, to, actorID string, at time.Time) (Offer, error)
	// MarkPosted records that the messages for status are stored. It does nothing once the offer
	// has moved on.
	MarkPosted(ctx context.Context, offerID, status string) error
	// ListUnposted lists offers last changed before the cutoff whose messages lag their status.
	ListUnposted(ctx context.Context, before time.Time, limit int) ([]Offer, error)
	ListByConversation(ctx context.Context, conversationID string) ([]Offer, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Offer, error)
	// InsertPayment stores a submitted payment, or returns the one already outstanding for the offer.
	InsertPayment(ctx context.Context, p Payment) (Payment, bool, error)
	// SubmittedPayment returns the offer's submitted payment, or not found.
	SubmittedPayment(ctx context.Context, offerID string) (Payment, error)
	// UnsettledPayments lists submitted payments whose offer is still accepted.
	UnsettledPayments(ctx context.Context, limit int) ([]Payment, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const offerColumns = `id::text, listing_id::text, buyer_id::text, farmer_id::text, COALESCE(conversation_id::text, ''),
                      offer_price::float8, quantity::float8, message, status, COALESCE(request_id, ''),
                      COALESCE(actor_id::text, ''), posted_status, created_at, updated_at`

const paymentColumns = `id::text, offer_id::text, payer_id::text, amount::float8, status,
                        COALESCE(transaction_ref, ''), COALESCE(screenshot_url, ''), created_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.FarmerID, &o.ConversationID,
		&o.OfferPrice, &o.Quantity, &o.Message, &o.Status, &o.RequestID, &o.ActorID, &o.PostedStatus,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OfferID, &p.PayerID, &p.Amount, &p.Status, &p.TransactionRef, &p.ScreenshotURL, &p.CreatedAt)
	return p, err
}

func (r *postgresRepository) Insert(ctx context.Context, o Offer) (Offer, bool, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	stored, err := scanOffer(r.pool.QueryRow(ctx, `
        INSERT INTO offers (id, listing_id, buyer_id, farmer_id, conversation_id, offer_price, quantity, message, status,
                            request_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, NULLIF($10, ''), $11, $11)
        ON CONFLICT (buyer_id, request_id) WHERE request_id IS NOT NULL DO NOTHING
        RETURNING `+offerColumns,
		o.ID, o.ListingID, o.BuyerID, o.FarmerID, o.ConversationID, o.OfferPrice, o.Quantity, o.Message, o.Status,
		o.RequestID, o.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, false, apperr.Transient("insert offer", err)
	}

	existing, err := scanOffer(r.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE buyer_id = $1 AND request_id = $2`, o.BuyerID, o.RequestID))
	if err != nil {
		return Offer{}, false, apperr.Transient("load offer by request id", err)
	}
	return existing, false, nil
}

func (r *postgresRepository) Get(ctx context.Context, offerID string) (Offer, error) {
	if _, err := uuid.Parse(offerID); err != nil {
		return Offer{}, apperr.NotFound("offer")
	}
	o, err := scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.NotFound("offer")
	}
	if err != nil {
		return Offer{}, apperr.Transient("load offer", err)
	}
	return o, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, offerID, from, to, actorID string, at time.Time) (Offer, error) {
	o, err := scanOffer(r.pool.QueryRow(ctx, `
        UPDATE offers SET status = $3, actor_id = NULLIF($4, '')::uuid, updated_at = $5
        WHERE id = $1 AND status = $2
        RETURNING `+offerColumns, offerID, from, to, actorID, at))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.Transient("update offer status", err)
	}

	current, err := r.Get(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	return current, apperr.InvalidTransition("offer", current.Status, to)
}

func (r *postgresRepository) MarkPosted(ctx context.Context, offerID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE offers SET posted_status = $2 WHERE id = $1 AND status = $2`, offerID, status)
	if err != nil {
		return apperr.Transient("mark offer posted", err)
	}
	return nil
}

func (r *postgresRepository) ListUnposted(ctx context.Context, before time.Time, limit int) ([]Offer, error) {
	return r.list(ctx, `SELECT `+offerColumns+` FROM offers
                        WHERE posted_status <> status AND updated_at < $1
                        ORDER BY updated_at LIMIT $2`, before, limit)
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transient("list offers", err)
	}
	defer rows.Close()

	out := make([]Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, apperr.Transient("scan offer", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("list offers", err)
	}
	return out, nil
}

func (r *postgresRepository) ListByConversation(ctx context.Context, conversationID string) ([]Offer, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return []Offer{}, nil
	}
	return r.list(ctx, `SELECT `+offerColumns+` FROM offers WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
}

func (r *postgresRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Offer, error) {
	return r.list(ctx, `SELECT `+offerColumns+` FROM offers
                        WHERE status = 'pending' AND created_at < $1
                        ORDER BY created_at LIMIT $2`, before, limit)
}

func (r *postgresRepository) InsertPayment(ctx context.Context, p Payment) (Payment, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	stored, err := scanPayment(r.pool.QueryRow(ctx, `
        INSERT INTO payments (id, offer_id, payer_id, amount, status, transaction_ref, screenshot_url, created_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
        ON CONFLICT (offer_id) WHERE status = 'submitted' DO NOTHING
        RETURNING `+paymentColumns,
		p.ID, p.OfferID, p.PayerID, p.Amount, PaymentSubmitted, p.TransactionRef, p.ScreenshotURL, p.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, apperr.Transient("insert payment", err)
	}

	existing, err := r.SubmittedPayment(ctx, p.OfferID)
	if err != nil {
		return Payment{}, false, err
	}
	return existing, false, nil
}

func (r *postgresRepository) SubmittedPayment(ctx context.Context, offerID string) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE offer_id = $1 AND status = 'submitted'`, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("payment")
	}
	if err != nil {
		return Payment{}, apperr.Transient("load submitted payment", err)
	}
	return p, nil
}

func (r *postgresRepository) UnsettledPayments(ctx context.Context, limit int) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT p.id::text, p.offer_id::text, p.payer_id::text, p.amount::float8, p.status,
               COALESCE(p.transaction_ref, ''), COALESCE(p.screenshot_url, ''), p.created_at
        FROM payments p
        JOIN offers o ON o.id = p.offer_id
        WHERE p.status = 'submitted' AND o.status = 'accepted'
        ORDER BY p.created_at
        LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Transient("list unsettled payments", err)
	}
	defer rows.Close()

	out := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, apperr.Transient("scan payment", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("list unsettled payments", err)
	}
	return out, nil
}
