package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/corvusec/ipvault/storage"
)

func scanTaskStatus(stmt *sqlite.Stmt) *storage.TaskStatus {
	return &storage.TaskStatus{
		DocumentID: stmt.ColumnText(0),
		Identity:   stmt.ColumnText(1),
		State:      storage.TaskState(stmt.ColumnText(2)),
		Detail:     stmt.ColumnText(3),
		CreatedAt:  time.Unix(0, stmt.ColumnInt64(4)),
		UpdatedAt:  time.Unix(0, stmt.ColumnInt64(5)),
	}
}

// SetTaskStatus creates or replaces the status row for a document.
// CreatedAt of an existing row is preserved.
func (s *Store) SetTaskStatus(ctx context.Context, ts *storage.TaskStatus) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO task_status (document_id, identity, state, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
		     state = excluded.state,
		     detail = excluded.detail,
		     updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				ts.DocumentID,
				ts.Identity,
				string(ts.State),
				ts.Detail,
				ts.CreatedAt.UnixNano(),
				ts.UpdatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

// GetTaskStatus returns the status row or storage.ErrTaskNotFound.
func (s *Store) GetTaskStatus(ctx context.Context, documentID string) (*storage.TaskStatus, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ts *storage.TaskStatus
	err = sqlitex.Execute(conn,
		`SELECT document_id, identity, state, detail, created_at, updated_at
		 FROM task_status WHERE document_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{documentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ts = scanTaskStatus(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	if ts == nil {
		return nil, storage.ErrTaskNotFound
	}
	return ts, nil
}

// ListTasksInState returns tasks in the given state last updated
// before the cutoff, oldest first.
func (s *Store) ListTasksInState(ctx context.Context, state storage.TaskState, before time.Time) ([]*storage.TaskStatus, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []*storage.TaskStatus
	err = sqlitex.Execute(conn,
		`SELECT document_id, identity, state, detail, created_at, updated_at
		 FROM task_status
		 WHERE state = ? AND updated_at < ?
		 ORDER BY updated_at ASC`,
		&sqlitex.ExecOptions{
			Args: []any{string(state), before.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanTaskStatus(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list task statuses: %w", err)
	}
	return out, nil
}

// DeleteTaskStatus removes the status row for a document.
func (s *Store) DeleteTaskStatus(ctx context.Context, documentID string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM task_status WHERE document_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{documentID},
		})
	if err != nil {
		return fmt.Errorf("failed to delete task status: %w", err)
	}
	return nil
}
