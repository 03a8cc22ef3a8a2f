package idempotency

import (
	"testing"
	"time"
)

// TestCleanupOldRecords tests one-shot cleanup.
func TestCleanupOldRecords(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.Begin("stale", "op"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	repo.mu.Lock()
	repo.records[recordKey{"stale", "op"}].CreatedAt = time.Now().Add(-2 * DefaultRetention)
	repo.mu.Unlock()

	deleted, err := CleanupOldRecords(repo, DefaultRetention)
	if err != nil {
		t.Fatalf("CleanupOldRecords failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

// TestRunPeriodicCleanup_StopsOnClose tests that the worker exits when the
// stop channel closes.
func TestRunPeriodicCleanup_StopsOnClose(t *testing.T) {
	repo := NewInMemoryRepository()
	stopChan := make(chan struct{})
	done := make(chan struct{})

	go func() {
		RunPeriodicCleanup(repo, time.Hour, DefaultRetention, stopChan)
		close(done)
	}()

	close(stopChan)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

// TestRunPeriodicCleanup_DeletesOnTick tests that expired records are removed
// by the periodic worker.
func TestRunPeriodicCleanup_DeletesOnTick(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.Begin("stale", "op"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	repo.mu.Lock()
	repo.records[recordKey{"stale", "op"}].CreatedAt = time.Now().Add(-2 * time.Hour)
	repo.mu.Unlock()

	stopChan := make(chan struct{})
	go RunPeriodicCleanup(repo, 10*time.Millisecond, time.Hour, stopChan)
	defer close(stopChan)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := repo.Get("stale", "op"); err == ErrRecordNotFound {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expired record was not cleaned up")
}
