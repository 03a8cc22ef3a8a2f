// Package idempotency provides cleanup utilities for idempotency records.
package idempotency

import (
	"log/slog"
	"time"
)

// DefaultRetention is how long records are kept before expiring. Long enough
// to outlive any realistic client or webhook retry window.
const DefaultRetention = 24 * time.Hour

// CleanupOldRecords removes records older than the specified duration.
// Returns the number of records deleted and any error encountered.
func CleanupOldRecords(repo Repository, retention time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(retention)
	if err != nil {
		slog.Error("failed to cleanup old idempotency records", "error", err)
		return 0, err
	}

	if deleted > 0 {
		slog.Info("cleaned up old idempotency records", "deleted", deleted, "older_than", retention)
	}

	return deleted, nil
}

// RunPeriodicCleanup runs the cleanup job at the specified interval until the
// stop channel is closed. This function blocks and should run in a goroutine:
//
//	stopChan := make(chan struct{})
//	go idempotency.RunPeriodicCleanup(repo, time.Hour, idempotency.DefaultRetention, stopChan)
//	// ... later when shutting down
//	close(stopChan)
func RunPeriodicCleanup(repo Repository, interval, retention time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	if _, err := CleanupOldRecords(repo, retention); err != nil {
		slog.Error("initial cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldRecords(repo, retention); err != nil {
				slog.Error("periodic cleanup failed", "error", err)
			}
		case <-stopChan:
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}
