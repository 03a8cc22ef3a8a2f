// Package idempotency provides exactly-once execution of side-effecting
// operations keyed by a client-supplied idempotency key and an operation name.
package idempotency

import (
	"errors"
	"time"
)

// Record status values.
//
// StatusInFlight marks a record whose operation is still executing. A
// concurrent request with the same (key, operation) waits for it to settle
// rather than executing a second time.
const (
	StatusInFlight  = "in_flight"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	// ErrRecordNotFound is returned when a record is not found.
	ErrRecordNotFound = errors.New("idempotency record not found")

	// ErrRecordExists is returned by Begin when a record for the
	// (key, operation) pair already exists.
	ErrRecordExists = errors.New("idempotency record already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 255 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key. It must
// accommodate processor-minted identifiers used as keys; checkout session ids
// alone run past 64 characters. 255 matches the processor's own
// Idempotency-Key cap.
const MaxKeyLength = 255

// Record tracks one execution of an operation for a (key, operation) pair.
// At most one execution per pair ever runs to completion; the serialized
// result (or the failure message) is replayed to every later request that
// carries the same pair.
type Record struct {
	Key          string     `json:"key"`
	Operation    string     `json:"operation"`
	Status       string     `json:"status"`
	Result       []byte     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Repository defines methods for idempotency record persistence.
type Repository interface {
	// Get retrieves a record by (key, operation).
	// Returns ErrRecordNotFound if it doesn't exist.
	Get(key, operation string) (*Record, error)

	// Begin atomically inserts an in-flight record for (key, operation).
	// Returns ErrRecordExists if the pair is already present; the insert
	// and the existence check are a single atomic step, making Begin the
	// uniqueness primitive for duplicate-request defense.
	Begin(key, operation string) (*Record, error)

	// Complete marks a record completed and stores the operation result.
	Complete(key, operation string, result []byte) error

	// Fail marks a record failed and stores the error message, so a retry
	// with the same key observes the same failure rather than re-running
	// the operation.
	Fail(key, operation string, errMessage string) error

	// DeleteOlderThan removes records older than the given duration to
	// bound storage growth. Returns the number of records deleted.
	DeleteOlderThan(duration time.Duration) (int64, error)
}
