// Package idempotency provides repository implementations for idempotency
// record storage.
package idempotency

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository backed by PostgreSQL. The unique
// index on (key, operation) makes Begin an atomic check-and-insert, which is
// what allows webhook processors and API replicas to scale horizontally.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed idempotency repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves a record by (key, operation).
func (r *PostgresRepository) Get(key, operation string) (*Record, error) {
	row := r.db.QueryRow(`
		SELECT key, operation, status, result, error_message, created_at, completed_at
		FROM idempotency_records WHERE key = $1 AND operation = $2`,
		key, operation)

	var record Record
	var errMessage sql.NullString
	err := row.Scan(&record.Key, &record.Operation, &record.Status,
		&record.Result, &errMessage, &record.CreatedAt, &record.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan idempotency record: %w", err)
	}
	record.ErrorMessage = errMessage.String
	return &record, nil
}

// Begin atomically inserts an in-flight record for (key, operation).
func (r *PostgresRepository) Begin(key, operation string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	record := &Record{
		Key:       key,
		Operation: operation,
		Status:    StatusInFlight,
		CreatedAt: time.Now(),
	}

	_, err := r.db.Exec(`
		INSERT INTO idempotency_records (key, operation, status, created_at)
		VALUES ($1, $2, $3, $4)`,
		record.Key, record.Operation, record.Status, record.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return nil, ErrRecordExists
		}
		return nil, fmt.Errorf("insert idempotency record: %w", err)
	}
	return record, nil
}

// Complete marks a record completed and stores the operation result.
func (r *PostgresRepository) Complete(key, operation string, result []byte) error {
	return r.settle(key, operation, StatusCompleted, result, nil)
}

// Fail marks a record failed and stores the error message.
func (r *PostgresRepository) Fail(key, operation string, errMessage string) error {
	return r.settle(key, operation, StatusFailed, nil, &errMessage)
}

func (r *PostgresRepository) settle(key, operation, status string, result []byte, errMessage *string) error {
	res, err := r.db.Exec(`
		UPDATE idempotency_records
		SET status = $1, result = $2, error_message = $3, completed_at = now()
		WHERE key = $4 AND operation = $5`,
		status, result, errMessage, key, operation)
	if err != nil {
		return fmt.Errorf("settle idempotency record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteOlderThan removes records older than the specified duration.
func (r *PostgresRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM idempotency_records WHERE created_at < $1`,
		time.Now().Add(-duration))
	if err != nil {
		return 0, fmt.Errorf("delete old idempotency records: %w", err)
	}
	return res.RowsAffected()
}
