package storage

import "time"

// Session is a durable session row. The identity token is immutable
// for the lifetime of the session; only LastAccessedAt and Active ever
// change after creation.
type Session struct {
	// ID uniquely identifies the session, independent of the secret.
	ID string `json:"session_id"`

	// Identity is the salted hash of the caller's network address.
	Identity string `json:"identity"`

	// Secret is the opaque signed bearer string presented by the
	// caller on each request.
	Secret string `json:"secret"`

	// UserAgent is the client metadata captured at creation.
	UserAgent string `json:"user_agent,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Active         bool      `json:"active"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IdentityRecord tracks the first and most recent contact from an
// identity token.
type IdentityRecord struct {
	Identity  string
	FirstSeen time.Time
	LastSeen  time.Time
}

// AuditRecord is one append-only entry in the durable audit log.
type AuditRecord struct {
	// ID is assigned by the store on append.
	ID int64

	Identity  string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}

// TaskState is the processing state of a stored document.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// TaskStatus is the persisted processing status of one document. It is
// owned by the document's identity and keyed by document ID.
type TaskStatus struct {
	DocumentID string
	Identity   string
	State      TaskState

	// Detail carries a short human-readable note, typically the error
	// message for failed tasks.
	Detail string

	CreatedAt time.Time
	UpdatedAt time.Time
}
