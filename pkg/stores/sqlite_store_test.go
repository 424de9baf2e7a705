package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(id, template string) *Run {
	now := time.Now()
	return &Run{
		ID:          id,
		Template:    template,
		FinalName:   template,
		Family:      "debian",
		FromVersion: "bookworm",
		ToVersion:   "trixie",
		Status:      RunStatusRunning,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", "debian-12")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Template != "debian-12" || got.Status != RunStatusRunning {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.CompletedAt != nil || got.Error != nil {
		t.Error("expected open run to have no completion data")
	}

	if err := store.FinishRun(ctx, "run-1", RunStatusFailed, "package operation failed"); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
	if got.Error == nil || *got.Error != "package operation failed" {
		t.Errorf("unexpected error column: %v", got.Error)
	}
}

func TestFinishRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	if err := store.FinishRun(context.Background(), "missing", RunStatusSucceeded, ""); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testRun("run-1", "debian-12")
	first.StartedAt = time.Now().Add(-time.Hour)
	second := testRun("run-2", "fedora-39")
	second.Family = "fedora"

	for _, run := range []*Run{first, second} {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}

	runs, err = store.ListRuns(ctx, "debian-12", 10)
	if err != nil {
		t.Fatalf("failed to list filtered runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("unexpected filtered runs: %+v", runs)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1", "debian-12")); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	steps := []string{"ensure-running", "rewrite-sources", "upgrade"}
	for _, step := range steps {
		event := &Event{
			RunID:     "run-1",
			Step:      step,
			Level:     EventLevelInfo,
			Message:   "completed",
			CreatedAt: time.Now(),
		}
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected event ID to be assigned")
		}
	}

	events, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(events))
	}
	for i, step := range steps {
		if events[i].Step != step {
			t.Errorf("expected step %s at index %d, got %s", step, i, events[i].Step)
		}
	}
}
