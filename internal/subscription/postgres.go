package subscription

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed subscription repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a new subscription row.
func (r *PostgresRepository) Insert(sub *Subscription) error {
	_, err := r.db.Exec(`
		INSERT INTO subscriptions (id, user_id, customer_id, price_id, status,
			cancel_at_period_end, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		sub.ID, sub.UserID, sub.CustomerID, sub.PriceID, sub.Status,
		sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by processor id.
func (r *PostgresRepository) GetByID(id string) (*Subscription, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, customer_id, price_id, status,
			cancel_at_period_end, current_period_end, created_at, updated_at
		FROM subscriptions WHERE id = $1`, id)

	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.CustomerID, &sub.PriceID, &sub.Status,
		&sub.CancelAtPeriodEnd, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

// ListByUserID returns all subscriptions owned by the user.
func (r *PostgresRepository) ListByUserID(userID string) ([]*Subscription, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, customer_id, price_id, status,
			cancel_at_period_end, current_period_end, created_at, updated_at
		FROM subscriptions WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.CustomerID, &sub.PriceID, &sub.Status,
			&sub.CancelAtPeriodEnd, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// Update overwrites the mirror fields of an existing row.
func (r *PostgresRepository) Update(sub *Subscription) error {
	res, err := r.db.Exec(`
		UPDATE subscriptions
		SET status = $1, cancel_at_period_end = $2, current_period_end = $3, updated_at = now()
		WHERE id = $4`,
		sub.Status, sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd, sub.ID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts or overwrites the row. Webhook sync payloads may not carry
// ownership, so empty identity fields never clobber a stored value; a
// non-empty user id does overwrite, letting the creating request claim a row
// the webhook mirrored first.
func (r *PostgresRepository) Upsert(sub *Subscription) error {
	_, err := r.db.Exec(`
		INSERT INTO subscriptions (id, user_id, customer_id, price_id, status,
			cancel_at_period_end, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), subscriptions.user_id),
			customer_id = COALESCE(NULLIF(EXCLUDED.customer_id, ''), subscriptions.customer_id),
			price_id = COALESCE(NULLIF(EXCLUDED.price_id, ''), subscriptions.price_id),
			status = EXCLUDED.status,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()`,
		sub.ID, sub.UserID, sub.CustomerID, sub.PriceID, sub.Status,
		sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// PostgresCustomerRepository implements CustomerRepository backed by
// PostgreSQL.
type PostgresCustomerRepository struct {
	db *sql.DB
}

// NewPostgresCustomerRepository creates a new Postgres-backed customer mapping.
func NewPostgresCustomerRepository(db *sql.DB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

// GetCustomerID returns the processor customer id for a user.
func (r *PostgresCustomerRepository) GetCustomerID(userID string) (string, error) {
	var id string
	err := r.db.QueryRow(`SELECT customer_id FROM processor_customers WHERE user_id = $1`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get customer id: %w", err)
	}
	return id, nil
}

// SaveCustomerID stores the mapping. The first write wins.
func (r *PostgresCustomerRepository) SaveCustomerID(userID, customerID string) error {
	_, err := r.db.Exec(`
		INSERT INTO processor_customers (user_id, customer_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO NOTHING`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("save customer id: %w", err)
	}
	return nil
}
