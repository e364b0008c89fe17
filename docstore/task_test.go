package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvusec/ipvault/storage"
)

func TestTaskStatusLifecycle(t *testing.T) {
	fx := defaultFixture(t)
	ctx := context.Background()

	doc, _, err := fx.store.Store(ctx, "identity-a", "report.pdf", []byte("content"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Storing a document seeds a pending task row.
	ts, err := fx.store.GetTaskStatus(ctx, "identity-a", doc.ID)
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if ts.State != storage.TaskPending {
		t.Errorf("initial state = %s, want %s", ts.State, storage.TaskPending)
	}
	created := ts.CreatedAt

	if err := fx.store.SetTaskStatus(ctx, "identity-a", doc.ID, storage.TaskProcessing, ""); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := fx.store.SetTaskStatus(ctx, "identity-a", doc.ID, storage.TaskFailed, "conversion error"); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	ts, err = fx.store.GetTaskStatus(ctx, "identity-a", doc.ID)
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if ts.State != storage.TaskFailed || ts.Detail != "conversion error" {
		t.Errorf("state = %s detail = %q, want %s / conversion error", ts.State, ts.Detail, storage.TaskFailed)
	}
	if !ts.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed across updates: %v != %v", ts.CreatedAt, created)
	}
}

func TestTaskStatusOwnership(t *testing.T) {
	fx := defaultFixture(t)
	ctx := context.Background()

	doc, _, err := fx.store.Store(ctx, "identity-a", "report.pdf", []byte("content"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := fx.store.SetTaskStatus(ctx, "identity-b", doc.ID, storage.TaskCompleted, ""); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("cross-identity SetTaskStatus: err = %v, want ErrDocumentNotFound", err)
	}
	if _, err := fx.store.GetTaskStatus(ctx, "identity-b", doc.ID); !errors.Is(err, storage.ErrTaskNotFound) {
		t.Errorf("cross-identity GetTaskStatus: err = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskStatusUnknownDocument(t *testing.T) {
	fx := defaultFixture(t)
	ctx := context.Background()

	if err := fx.store.SetTaskStatus(ctx, "identity-a", "no-such-id", storage.TaskCompleted, ""); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("SetTaskStatus unknown: err = %v, want ErrDocumentNotFound", err)
	}
	if _, err := fx.store.GetTaskStatus(ctx, "identity-a", "no-such-id"); !errors.Is(err, storage.ErrTaskNotFound) {
		t.Errorf("GetTaskStatus unknown: err = %v, want ErrTaskNotFound", err)
	}
}

func TestSweepFailed(t *testing.T) {
	fx := defaultFixture(t)
	ctx := context.Background()

	stale, _, err := fx.store.Store(ctx, "identity-a", "stale.pdf", []byte("stale content"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	fresh, _, err := fx.store.Store(ctx, "identity-a", "fresh.pdf", []byte("fresh content"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Fail both, then age only the first beyond retention.
	past := time.Now().Add(-48 * time.Hour)
	fx.store.now = func() time.Time { return past }
	if err := fx.store.SetTaskStatus(ctx, "identity-a", stale.ID, storage.TaskFailed, "old failure"); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	fx.store.now = time.Now
	if err := fx.store.SetTaskStatus(ctx, "identity-a", fresh.ID, storage.TaskFailed, "recent failure"); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	removed, err := fx.store.SweepFailed(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("SweepFailed: %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepFailed removed %d, want 1", removed)
	}

	if _, err := fx.store.GetTaskStatus(ctx, "identity-a", stale.ID); !errors.Is(err, storage.ErrTaskNotFound) {
		t.Errorf("stale task survived sweep: err = %v", err)
	}
	if _, err := fx.store.GetTaskStatus(ctx, "identity-a", fresh.ID); err != nil {
		t.Errorf("fresh task removed by sweep: %v", err)
	}
}
