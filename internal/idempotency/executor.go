// Package idempotency provides the execution wrapper enforcing exactly-once
// semantics over a Repository.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrConflict is returned when a concurrent execution for the same
	// (key, operation) is still in flight after the wait timeout. Maps to
	// HTTP 409; the client should retry after the first request settles.
	ErrConflict = errors.New("operation with this idempotency key is in progress")

	// ErrRecordedFailure wraps the stored error of a previously failed
	// execution. A retry with the same key observes the original failure.
	ErrRecordedFailure = errors.New("idempotent operation previously failed")
)

// DefaultWaitTimeout bounds how long a duplicate request waits for the
// in-flight first execution before giving up with ErrConflict.
const DefaultWaitTimeout = 5 * time.Second

// pollInterval is how often a waiting duplicate re-reads the record.
const pollInterval = 50 * time.Millisecond

// Executor runs operations at most once per (key, operation) pair.
//
// Concurrency policy: a duplicate arriving while the first execution is in
// flight waits up to WaitTimeout for it to settle, then returns ErrConflict.
type Executor struct {
	repo        Repository
	WaitTimeout time.Duration
}

// NewExecutor creates an Executor over the given repository.
func NewExecutor(repo Repository) *Executor {
	return &Executor{
		repo:        repo,
		WaitTimeout: DefaultWaitTimeout,
	}
}

// Execute runs fn at most once for (key, operation).
//
// First request: inserts an in-flight record, runs fn, stores the result
// (success or failure), returns it. Later requests: replay the stored result
// without running fn. Concurrent duplicates wait for the first execution.
func (e *Executor) Execute(ctx context.Context, key, operation string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	_, err := e.repo.Begin(key, operation)
	if err == ErrRecordExists {
		return e.replay(ctx, key, operation)
	}
	if err != nil {
		return nil, fmt.Errorf("begin idempotent execution: %w", err)
	}

	result, opErr := fn(ctx)
	if opErr != nil {
		if storeErr := e.repo.Fail(key, operation, opErr.Error()); storeErr != nil {
			slog.ErrorContext(ctx, "failed to record idempotent failure",
				"key", key, "operation", operation, "error", storeErr)
		}
		return nil, opErr
	}

	if storeErr := e.repo.Complete(key, operation, result); storeErr != nil {
		// The side effect happened; the worst case on a store failure is a
		// retry reaching fn again. Surface it loudly.
		slog.ErrorContext(ctx, "failed to record idempotent result",
			"key", key, "operation", operation, "error", storeErr)
	}
	return result, nil
}

// replay returns the stored outcome, waiting out an in-flight execution.
func (e *Executor) replay(ctx context.Context, key, operation string) ([]byte, error) {
	deadline := time.Now().Add(e.WaitTimeout)

	for {
		record, err := e.repo.Get(key, operation)
		if err != nil {
			return nil, fmt.Errorf("read idempotency record: %w", err)
		}

		switch record.Status {
		case StatusCompleted:
			return record.Result, nil
		case StatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrRecordedFailure, record.ErrorMessage)
		}

		if time.Now().After(deadline) {
			return nil, ErrConflict
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
