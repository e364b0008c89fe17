package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/corvusec/ipvault/storage"
)

// Timestamps are stored as Unix nanoseconds so sub-second ordering
// survives the round trip.

// CreateSession persists a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *storage.Session) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (id, identity, secret, user_agent, created_at, last_accessed_at, expires_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				sess.ID,
				sess.Identity,
				sess.Secret,
				sess.UserAgent,
				sess.CreatedAt.UnixNano(),
				sess.LastAccessedAt.UnixNano(),
				sess.ExpiresAt.UnixNano(),
				boolToInt(sess.Active),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func scanSession(stmt *sqlite.Stmt) *storage.Session {
	return &storage.Session{
		ID:             stmt.ColumnText(0),
		Identity:       stmt.ColumnText(1),
		Secret:         stmt.ColumnText(2),
		UserAgent:      stmt.ColumnText(3),
		CreatedAt:      time.Unix(0, stmt.ColumnInt64(4)),
		LastAccessedAt: time.Unix(0, stmt.ColumnInt64(5)),
		ExpiresAt:      time.Unix(0, stmt.ColumnInt64(6)),
		Active:         stmt.ColumnInt64(7) != 0,
	}
}

// GetSessionBySecret returns the active, unexpired session for secret.
func (s *Store) GetSessionBySecret(ctx context.Context, secret string, now time.Time) (*storage.Session, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var sess *storage.Session
	err = sqlitex.Execute(conn,
		`SELECT id, identity, secret, user_agent, created_at, last_accessed_at, expires_at, active
		 FROM sessions
		 WHERE secret = ? AND active = 1 AND expires_at > ?`,
		&sqlitex.ExecOptions{
			Args: []any{secret, now.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sess = scanSession(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, storage.ErrSessionNotFound
	}
	return sess, nil
}

// TouchSession advances the last-accessed timestamp.
func (s *Store) TouchSession(ctx context.Context, secret string, at time.Time) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET last_accessed_at = ? WHERE secret = ?`,
		&sqlitex.ExecOptions{
			Args: []any{at.UnixNano(), secret},
		})
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// InvalidateSession marks the session inactive. Returns false when no
// active row matched.
func (s *Store) InvalidateSession(ctx context.Context, secret string) (bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET active = 0 WHERE secret = ? AND active = 1`,
		&sqlitex.ExecOptions{
			Args: []any{secret},
		})
	if err != nil {
		return false, fmt.Errorf("failed to invalidate session: %w", err)
	}
	return conn.Changes() > 0, nil
}

// InvalidateSessionsForIdentity marks every active session of the
// identity inactive and returns the secrets for cache eviction.
func (s *Store) InvalidateSessionsForIdentity(ctx context.Context, identity string) ([]string, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var secrets []string
	err = sqlitex.Execute(conn,
		`SELECT secret FROM sessions WHERE identity = ? AND active = 1`,
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				secrets = append(secrets, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for identity: %w", err)
	}

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET active = 0 WHERE identity = ? AND active = 1`,
		&sqlitex.ExecOptions{
			Args: []any{identity},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate sessions for identity: %w", err)
	}

	return secrets, nil
}

// DeleteExpiredSessions removes expired or inactive rows and returns
// the removed secrets for cache eviction.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var secrets []string
	err = sqlitex.Execute(conn,
		`SELECT secret FROM sessions WHERE active = 0 OR expires_at <= ?`,
		&sqlitex.ExecOptions{
			Args: []any{now.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				secrets = append(secrets, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM sessions WHERE active = 0 OR expires_at <= ?`,
		&sqlitex.ExecOptions{
			Args: []any{now.UnixNano()},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return secrets, len(secrets), nil
}

// CountActiveSessions returns the number of active, unexpired sessions.
func (s *Store) CountActiveSessions(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM sessions WHERE active = 1 AND expires_at > ?`,
		&sqlitex.ExecOptions{
			Args: []any{now.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = int(stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// UpsertIdentity records contact from the identity at seenAt.
func (s *Store) UpsertIdentity(ctx context.Context, identity string, seenAt time.Time) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO identities (identity, first_seen, last_seen)
		 VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET last_seen = excluded.last_seen`,
		&sqlitex.ExecOptions{
			Args: []any{identity, seenAt.UnixNano(), seenAt.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// GetIdentity returns the identity record or storage.ErrIdentityNotFound.
func (s *Store) GetIdentity(ctx context.Context, identity string) (*storage.IdentityRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rec *storage.IdentityRecord
	err = sqlitex.Execute(conn,
		`SELECT identity, first_seen, last_seen FROM identities WHERE identity = ?`,
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec = &storage.IdentityRecord{
					Identity:  stmt.ColumnText(0),
					FirstSeen: time.Unix(0, stmt.ColumnInt64(1)),
					LastSeen:  time.Unix(0, stmt.ColumnInt64(2)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if rec == nil {
		return nil, storage.ErrIdentityNotFound
	}
	return rec, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
