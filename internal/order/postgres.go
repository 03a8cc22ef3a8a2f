// Package order provides repositories for order persistence.
package order

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository backed by PostgreSQL.
// Status changes use conditional UPDATEs so concurrent writers race on the
// database row, not on application state.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed order repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a new order row.
func (r *PostgresRepository) Insert(o *Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	now := time.Now()
	if o.CreatedAt == nil {
		o.CreatedAt = &now
	}
	if o.UpdatedAt == nil {
		o.UpdatedAt = &now
	}

	_, err = r.db.Exec(`
		INSERT INTO orders (id, user_id, items, total_amount, currency, status,
			payment_intent_id, checkout_session_id, payment_status, failure_reason,
			update_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, items, o.TotalAmount, o.Currency, o.Status,
		o.PaymentIntentID, o.CheckoutSessionID, nullEmpty(o.PaymentStatus), o.FailureReason,
		o.UpdateCount, *o.CreatedAt, *o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by id.
func (r *PostgresRepository) GetByID(id string) (*Order, error) {
	return r.getWhere("id = $1", id)
}

// GetByPaymentIntentID retrieves the order carrying the given intent id.
func (r *PostgresRepository) GetByPaymentIntentID(intentID string) (*Order, error) {
	return r.getWhere("payment_intent_id = $1", intentID)
}

// GetByCheckoutSessionID retrieves the order carrying the given session id.
func (r *PostgresRepository) GetByCheckoutSessionID(sessionID string) (*Order, error) {
	return r.getWhere("checkout_session_id = $1", sessionID)
}

func (r *PostgresRepository) getWhere(cond string, arg any) (*Order, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, items, total_amount, currency, status,
			payment_intent_id, checkout_session_id, payment_status, failure_reason,
			update_count, created_at, updated_at
		FROM orders WHERE `+cond, arg)

	var o Order
	var items []byte
	var paymentStatus sql.NullString
	var createdAt, updatedAt time.Time
	err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmount, &o.Currency, &o.Status,
		&o.PaymentIntentID, &o.CheckoutSessionID, &paymentStatus, &o.FailureReason,
		&o.UpdateCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	o.PaymentStatus = paymentStatus.String
	o.CreatedAt = &createdAt
	o.UpdatedAt = &updatedAt
	return &o, nil
}

// AttachPaymentIntent sets the intent id only when the column is NULL.
func (r *PostgresRepository) AttachPaymentIntent(orderID, intentID string) error {
	res, err := r.db.Exec(`
		UPDATE orders SET payment_intent_id = $1, updated_at = now()
		WHERE id = $2 AND payment_intent_id IS NULL`,
		intentID, orderID)
	if err != nil {
		return fmt.Errorf("attach payment intent: %w", err)
	}
	return r.attachOutcome(res, orderID, "payment_intent_id")
}

// AttachCheckoutSession sets the session id only when the column is NULL.
func (r *PostgresRepository) AttachCheckoutSession(orderID, sessionID string) error {
	res, err := r.db.Exec(`
		UPDATE orders SET checkout_session_id = $1, updated_at = now()
		WHERE id = $2 AND checkout_session_id IS NULL`,
		sessionID, orderID)
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}
	return r.attachOutcome(res, orderID, "checkout_session_id")
}

// attachOutcome distinguishes a missing row from a lost conditional update.
func (r *PostgresRepository) attachOutcome(res sql.Result, orderID, column string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order %s: %w", column, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrIntentAlreadyAttached
}

// TransitionStatus applies a compare-and-set status change in a single
// conditional UPDATE. The expected set races on the row itself; it is first
// narrowed to legal source statuses so the UPDATE enforces the same
// transition table as the in-memory repository.
func (r *PostgresRepository) TransitionStatus(orderID string, expected []string, to string, paymentStatus string, failureReason *string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE orders
		SET status = $1,
			payment_status = COALESCE(NULLIF($2, ''), payment_status),
			failure_reason = COALESCE($3, failure_reason),
			update_count = update_count + 1,
			updated_at = now()
		WHERE id = $4 AND status = ANY($5) AND status <> $1`,
		to, paymentStatus, failureReason, orderID, pq.Array(LegalSources(expected, to)))
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish the no-op, not-found, and lost-race cases.
	var current string
	err = r.db.QueryRow(`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read order status: %w", err)
	}
	if current == to {
		return false, nil
	}
	if !CanTransition(current, to) {
		return false, ErrInvalidTransition
	}
	return false, ErrStatusChanged
}

func nullEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
