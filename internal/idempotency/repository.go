// Package idempotency provides repository implementations for idempotency
// record storage.
package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
// Begin holds the write lock across check and insert, which is the atomic
// check-and-insert the contract requires.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]*Record
}

type recordKey struct {
	key       string
	operation string
}

// NewInMemoryRepository creates a new in-memory idempotency record repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[recordKey]*Record),
	}
}

// Get retrieves a record by (key, operation).
func (r *InMemoryRepository) Get(key, operation string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[recordKey{key, operation}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// Begin atomically inserts an in-flight record for (key, operation).
func (r *InMemoryRepository) Begin(key, operation string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{key, operation}
	if _, exists := r.records[k]; exists {
		return nil, ErrRecordExists
	}

	record := &Record{
		Key:       key,
		Operation: operation,
		Status:    StatusInFlight,
		CreatedAt: time.Now(),
	}
	r.records[k] = record
	return copyRecord(record), nil
}

// Complete marks a record completed and stores the operation result.
func (r *InMemoryRepository) Complete(key, operation string, result []byte) error {
	return r.settle(key, operation, StatusCompleted, result, "")
}

// Fail marks a record failed and stores the error message.
func (r *InMemoryRepository) Fail(key, operation string, errMessage string) error {
	return r.settle(key, operation, StatusFailed, nil, errMessage)
}

func (r *InMemoryRepository) settle(key, operation, status string, result []byte, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordKey{key, operation}]
	if !ok {
		return ErrRecordNotFound
	}

	record.Status = status
	record.Result = result
	record.ErrorMessage = errMessage
	now := time.Now()
	record.CompletedAt = &now
	return nil
}

// DeleteOlderThan removes records older than the specified duration.
// Returns the number of records deleted.
func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-duration)
	deleted := int64(0)

	for k, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, k)
			deleted++
		}
	}

	return deleted, nil
}

// copyRecord creates a deep copy of a Record.
func copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}

	copied := *record
	if record.Result != nil {
		copied.Result = make([]byte, len(record.Result))
		copy(copied.Result, record.Result)
	}
	if record.CompletedAt != nil {
		t := *record.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}
