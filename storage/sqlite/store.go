package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/corvusec/ipvault/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    identity         TEXT NOT NULL,
    secret           TEXT NOT NULL UNIQUE,
    user_agent       TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    last_accessed_at INTEGER NOT NULL,
    expires_at       INTEGER NOT NULL,
    active           INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity, active);
CREATE INDEX IF NOT EXISTS idx_sessions_expires  ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS identities (
    identity   TEXT PRIMARY KEY,
    first_seen INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    identity   TEXT NOT NULL,
    action     TEXT NOT NULL,
    details    TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_identity_time ON audit_log(identity, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_time          ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS task_status (
    document_id TEXT PRIMARY KEY,
    identity    TEXT NOT NULL,
    state       TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_state_updated ON task_status(state, updated_at);
`

// Config holds configuration for the SQLite durable tier.
type Config struct {
	// Path is the filesystem path to the database file. The parent
	// directory must exist. Use ":memory:" with PoolSize 1 for tests.
	Path string

	// PoolSize is the number of pooled connections. Defaults to
	// max(runtime.NumCPU(), 4) if zero or negative. SQLite serializes
	// writes regardless of pool size; extra connections only help
	// concurrent reads.
	PoolSize int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a SQLite-backed implementation of the durable tier.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Compile-time interface check
var _ storage.DurableStore = (*Store)(nil)

// New opens the database, applies pragmas, and creates the schema.
// The caller must Close the store when done.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.Path, err)
	}

	logger.Info("Opened SQLite durable tier",
		"path", cfg.Path,
		"pool_size", poolSize)

	return &Store{
		pool:   pool,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// prepareConnection applies pragmas and the schema. Runs once per
// pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	// WAL gives concurrent readers alongside the single writer.
	// synchronous=NORMAL survives process crashes, which is enough
	// here: the fast tier is rebuilt from this database on restart,
	// not the other way around.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the connection pool. Blocks until all borrowed
// connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database %s: %w", s.path, err)
	}
	s.logger.Info("SQLite durable tier closed", "path", s.path)
	return nil
}

// take borrows a pooled connection. Callers must put it back.
func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take sqlite connection: %w", err)
	}
	return conn, nil
}
