package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage backends. Callers match with
// errors.Is; backends wrap them with additional context.
var (
	// ErrCacheMiss is returned by FastStore.Get when the key is absent
	// or expired. A cache miss is not a failure: callers fall through
	// to the durable tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrSessionNotFound is returned when no active, unexpired session
	// matches the given secret.
	ErrSessionNotFound = errors.New("session not found")

	// ErrIdentityNotFound is returned when an identity has never been
	// seen by the durable tier.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrTaskNotFound is returned when no task status exists for a
	// document ID.
	ErrTaskNotFound = errors.New("task status not found")
)

// FastStore is the fast shared tier. Any key-value engine offering
// per-key TTL, atomic increment, sorted-set score-range removal, and
// list push/trim can implement it.
//
// All operations are best-effort from the caller's perspective: the
// rate limiter and anomaly detector fail open on FastStore errors, and
// the session store falls back to the durable tier.
type FastStore interface {
	// Set stores a value under key with the given TTL. A TTL of zero
	// or less stores nothing and returns nil.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments the counter at key and returns
	// the new value. The TTL is applied when the counter is created so
	// it cannot outlive its window.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// WindowAdd adds a scored member to the sliding window at key and
	// refreshes the key TTL.
	WindowAdd(ctx context.Context, key, member string, score int64, ttl time.Duration) error

	// WindowTrim removes all members with a score strictly below
	// minScore.
	WindowTrim(ctx context.Context, key string, minScore int64) error

	// WindowCount returns the number of members in the window.
	WindowCount(ctx context.Context, key string) (int64, error)

	// WindowOldest returns the lowest score in the window. The bool is
	// false when the window is empty.
	WindowOldest(ctx context.Context, key string) (int64, bool, error)

	// RingPush prepends an entry to the bounded list at key, trimming
	// it to capacity so the oldest entries are dropped.
	RingPush(ctx context.Context, key, entry string, capacity int64) error

	// RingRange returns entries [start, stop] from the list at key,
	// newest first. Negative stop counts from the end.
	RingRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// SessionStore is the durable, authoritative session tier.
//
// Every method that touches per-identity rows scopes its query to the
// identity embedded in the row it operates on. This is a second line of
// defense beyond the in-code ownership checks: a confused caller cannot
// reach another identity's rows through this interface.
type SessionStore interface {
	// CreateSession persists a new session row.
	CreateSession(ctx context.Context, s *Session) error

	// GetSessionBySecret returns the session matching the secret that
	// is active and not yet expired at now. Inactive or expired rows
	// yield ErrSessionNotFound.
	GetSessionBySecret(ctx context.Context, secret string, now time.Time) (*Session, error)

	// TouchSession advances the last-accessed timestamp. Last write
	// wins under concurrent validation.
	TouchSession(ctx context.Context, secret string, at time.Time) error

	// InvalidateSession marks the session inactive. Returns false when
	// no matching active row existed.
	InvalidateSession(ctx context.Context, secret string) (bool, error)

	// InvalidateSessionsForIdentity marks every active session of the
	// identity inactive and returns their secrets so callers can evict
	// the cache tier.
	InvalidateSessionsForIdentity(ctx context.Context, identity string) ([]string, error)

	// DeleteExpiredSessions removes rows that are expired at now or
	// already inactive, returning the removed secrets for cache
	// eviction and the count removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, int, error)

	// CountActiveSessions returns the number of active, unexpired
	// sessions across all identities.
	CountActiveSessions(ctx context.Context, now time.Time) (int, error)
}

// IdentityStore tracks first/last contact per identity token.
type IdentityStore interface {
	// UpsertIdentity records contact from the identity at seenAt,
	// creating the row on first contact.
	UpsertIdentity(ctx context.Context, identity string, seenAt time.Time) error

	// GetIdentity returns the identity record or ErrIdentityNotFound.
	GetIdentity(ctx context.Context, identity string) (*IdentityRecord, error)
}

// AuditStore is the durable, append-only audit log. Retention is
// enforced externally through DeleteAuditBefore.
type AuditStore interface {
	// AppendAudit appends a record. Implementations must not mutate
	// existing rows.
	AppendAudit(ctx context.Context, rec *AuditRecord) error

	// QueryAudit returns up to limit records for the identity within
	// [since, until], newest first.
	QueryAudit(ctx context.Context, identity string, since, until time.Time, limit int) ([]*AuditRecord, error)

	// DeleteAuditBefore removes records created before cutoff and
	// returns the count removed.
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TaskStatusStore persists document processing status keyed by document
// ID, so pipeline progress survives process restarts.
type TaskStatusStore interface {
	// SetTaskStatus creates or replaces the status row for a document.
	SetTaskStatus(ctx context.Context, ts *TaskStatus) error

	// GetTaskStatus returns the status row or ErrTaskNotFound.
	GetTaskStatus(ctx context.Context, documentID string) (*TaskStatus, error)

	// ListTasksInState returns tasks in the given state last updated
	// before the cutoff, oldest first.
	ListTasksInState(ctx context.Context, state TaskState, before time.Time) ([]*TaskStatus, error)

	// DeleteTaskStatus removes the status row for a document. Removing
	// an absent row is not an error.
	DeleteTaskStatus(ctx context.Context, documentID string) error
}

// DurableStore is the composed durable tier.
type DurableStore interface {
	SessionStore
	IdentityStore
	AuditStore
	TaskStatusStore
}
