package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/corvusec/ipvault/storage"
)

// AppendAudit appends a record and assigns its ID. Details are stored
// as a JSON object so queries stay schema-free.
func (s *Store) AppendAudit(ctx context.Context, rec *storage.AuditRecord) error {
	details := "{}"
	if len(rec.Details) > 0 {
		data, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(data)
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO audit_log (identity, action, details, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{rec.Identity, rec.Action, details, rec.CreatedAt.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	rec.ID = conn.LastInsertRowID()
	return nil
}

// QueryAudit returns up to limit records for the identity within
// [since, until], newest first.
func (s *Store) QueryAudit(ctx context.Context, identity string, since, until time.Time, limit int) ([]*storage.AuditRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `SELECT id, identity, action, details, created_at
	          FROM audit_log
	          WHERE identity = ? AND created_at >= ? AND created_at <= ?
	          ORDER BY created_at DESC, id DESC`
	args := []any{identity, since.UnixNano(), until.UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var out []*storage.AuditRecord
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec := &storage.AuditRecord{
				ID:        stmt.ColumnInt64(0),
				Identity:  stmt.ColumnText(1),
				Action:    stmt.ColumnText(2),
				CreatedAt: time.Unix(0, stmt.ColumnInt64(4)),
			}
			if raw := stmt.ColumnText(3); raw != "" && raw != "{}" {
				if err := json.Unmarshal([]byte(raw), &rec.Details); err != nil {
					s.logger.Warn("Skipping audit record with malformed details",
						"id", rec.ID,
						"error", err)
					return nil
				}
			}
			out = append(out, rec)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return out, nil
}

// DeleteAuditBefore removes records created before cutoff.
func (s *Store) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM audit_log WHERE created_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff.UnixNano()},
		})
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit records: %w", err)
	}

	return conn.Changes(), nil
}
