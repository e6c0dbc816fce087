package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(context.Background(), dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func testRecord(batchID string, completed, failed int) ActivityRecord {
	status := "completed"
	if failed > 0 && completed == 0 {
		status = "failed"
	}
	started := time.Now().Add(-30 * time.Second).UTC()
	return ActivityRecord{
		ID:              batchID + "-rec",
		BatchID:         batchID,
		Status:          status,
		TotalImages:     completed + failed,
		CompletedImages: completed,
		FailedImages:    failed,
		StartedAt:       started,
		FinishedAt:      started.Add(30 * time.Second),
		DurationSeconds: 30,
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if got := store.Recent(ctx); len(got) != 0 {
		t.Fatalf("Recent() on empty store = %d records, want 0", len(got))
	}

	for i := 0; i < 3; i++ {
		rec := testRecord(fmt.Sprintf("batch-%d", i), 5, 0)
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got := store.Recent(ctx)
	if len(got) != 3 {
		t.Fatalf("Recent() = %d records, want 3", len(got))
	}
	// Newest first.
	if got[0].BatchID != "batch-2" || got[2].BatchID != "batch-0" {
		t.Errorf("Recent() order = [%s ... %s], want newest first", got[0].BatchID, got[2].BatchID)
	}
}

func TestRecentEvictsOldest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxRecent+4; i++ {
		if err := store.Record(ctx, testRecord(fmt.Sprintf("batch-%d", i), 1, 0)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got := store.Recent(ctx)
	if len(got) != MaxRecent {
		t.Fatalf("Recent() = %d records, want %d", len(got), MaxRecent)
	}
	if got[0].BatchID != fmt.Sprintf("batch-%d", MaxRecent+3) {
		t.Errorf("newest record = %s, want batch-%d", got[0].BatchID, MaxRecent+3)
	}
	if got[MaxRecent-1].BatchID != "batch-4" {
		t.Errorf("oldest surviving record = %s, want batch-4", got[MaxRecent-1].BatchID)
	}
}

func TestStatsAccumulate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, testRecord("batch-ok", 5, 1)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(ctx, testRecord("batch-bad", 0, 3)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	stats := store.Stats(ctx)
	if stats.JobsCompleted != 1 {
		t.Errorf("JobsCompleted = %d, want 1", stats.JobsCompleted)
	}
	if stats.JobsFailed != 1 {
		t.Errorf("JobsFailed = %d, want 1", stats.JobsFailed)
	}
	if stats.ImagesAnalyzed != 5 {
		t.Errorf("ImagesAnalyzed = %d, want 5", stats.ImagesAnalyzed)
	}
	if stats.ImagesFailed != 4 {
		t.Errorf("ImagesFailed = %d, want 4", stats.ImagesFailed)
	}
	if stats.TotalProcessingSeconds != 60 {
		t.Errorf("TotalProcessingSeconds = %v, want 60", stats.TotalProcessingSeconds)
	}
	if stats.LastUpdated.IsZero() {
		t.Error("LastUpdated is zero, want finish time of last record")
	}
}

func TestReset(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, testRecord("batch-1", 2, 0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if got := store.Recent(ctx); len(got) != 0 {
		t.Errorf("Recent() after Reset = %d records, want 0", len(got))
	}
	if stats := store.Stats(ctx); stats.JobsCompleted != 0 || stats.ImagesAnalyzed != 0 {
		t.Errorf("Stats() after Reset = %+v, want zero value", stats)
	}
}

func TestCorruptBlobDegradesToEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, testRecord("batch-1", 2, 0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Clobber both blobs with garbage directly.
	for _, key := range []string{keyRecentActivity, keySessionStats} {
		if _, err := store.db.ExecContext(ctx, "UPDATE state SET value = 'not json' WHERE key = ?", key); err != nil {
			t.Fatalf("failed to corrupt %s: %v", key, err)
		}
	}

	if got := store.Recent(ctx); got != nil {
		t.Errorf("Recent() on corrupt blob = %v, want nil", got)
	}
	if stats := store.Stats(ctx); stats != (SessionStats{}) {
		t.Errorf("Stats() on corrupt blob = %+v, want zero value", stats)
	}

	// A subsequent write repairs the state.
	if err := store.Record(ctx, testRecord("batch-2", 1, 0)); err != nil {
		t.Fatalf("Record() after corruption error = %v", err)
	}
	got := store.Recent(ctx)
	if len(got) != 1 || got[0].BatchID != "batch-2" {
		t.Errorf("Recent() after repair = %v, want single batch-2 record", got)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested.db")
	store, err := Open(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if err := store.Record(context.Background(), testRecord("b", 1, 0)); err != nil {
		t.Errorf("Record() on fresh store error = %v", err)
	}
}
