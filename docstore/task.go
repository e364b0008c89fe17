package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corvusec/ipvault/storage"
)

// SetTaskStatus records the processing state of the identity's
// document. The status row survives restarts, so an external pipeline
// can resume where it left off. CreatedAt of an existing row is
// preserved by the store.
func (s *Store) SetTaskStatus(ctx context.Context, identity, documentID string, state storage.TaskState, detail string) error {
	if s.tasks == nil {
		return fmt.Errorf("task status tracking is not configured")
	}

	// Ownership first: the status row must belong to a document the
	// identity actually owns.
	doc, err := s.findMeta(identity, documentID)
	if err != nil {
		return err
	}
	if err := s.checkOwner(ctx, identity, doc); err != nil {
		return err
	}

	now := s.now()
	created := now
	if existing, err := s.tasks.GetTaskStatus(ctx, documentID); err == nil {
		created = existing.CreatedAt
	}

	err = s.tasks.SetTaskStatus(ctx, &storage.TaskStatus{
		DocumentID: documentID,
		Identity:   identity,
		State:      state,
		Detail:     detail,
		CreatedAt:  created,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

// GetTaskStatus returns the processing state of the identity's
// document. A status row owned by a different identity surfaces as
// not found.
func (s *Store) GetTaskStatus(ctx context.Context, identity, documentID string) (*storage.TaskStatus, error) {
	if s.tasks == nil {
		return nil, fmt.Errorf("task status tracking is not configured")
	}

	ts, err := s.tasks.GetTaskStatus(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if ts.Identity != identity {
		return nil, storage.ErrTaskNotFound
	}
	return ts, nil
}

// SweepFailed removes failed task rows older than retention and
// returns the number removed.
func (s *Store) SweepFailed(ctx context.Context, retention time.Duration) (int, error) {
	if s.tasks == nil {
		return 0, nil
	}

	cutoff := s.now().Add(-retention)
	stale, err := s.tasks.ListTasksInState(ctx, storage.TaskFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed tasks: %w", err)
	}

	removed := 0
	for _, ts := range stale {
		if err := s.tasks.DeleteTaskStatus(ctx, ts.DocumentID); err != nil {
			if !errors.Is(err, storage.ErrTaskNotFound) {
				s.logger.Warn("Failed to delete stale task status",
					"document_id", ts.DocumentID,
					"error", err)
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Swept stale failed tasks", "count", removed)
	}
	return removed, nil
}
