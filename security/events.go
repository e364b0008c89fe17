package security

// Event kind constants for security and audit logging. Using
// constants keeps the event vocabulary consistent across components
// and greppable in log output.
const (
	// Anomaly detector events

	// EventRapidRequests is emitted when an identity exceeds the
	// short-window burst threshold.
	EventRapidRequests = "RAPID_REQUESTS"

	// EventSuspiciousUserAgent is emitted when a request's user agent
	// matches the denylist of automated-client signatures.
	EventSuspiciousUserAgent = "SUSPICIOUS_USER_AGENT"

	// EventPathTraversalAttempt is emitted when a request path carries
	// traversal or injection indicators.
	EventPathTraversalAttempt = "PATH_TRAVERSAL_ATTEMPT"

	// Session lifecycle events

	// EventSessionCreated is recorded when a session is minted.
	EventSessionCreated = "SESSION_CREATED"

	// EventSessionInvalidated is recorded when a single session is
	// explicitly invalidated.
	EventSessionInvalidated = "SESSION_INVALIDATED"

	// EventAllSessionsInvalidated is recorded on bulk invalidation of
	// an identity's sessions.
	EventAllSessionsInvalidated = "ALL_SESSIONS_INVALIDATED"

	// EventIdentityMismatch is recorded when a presented session
	// secret belongs to a different identity than the caller's.
	EventIdentityMismatch = "IP_MISMATCH"

	// Document events

	// EventDocumentStored is recorded when a document is stored.
	EventDocumentStored = "DOCUMENT_STORED"

	// EventDocumentRetrieved is recorded when a document is read.
	EventDocumentRetrieved = "DOCUMENT_RETRIEVED"

	// EventDocumentDeleted is recorded when a document is securely
	// deleted.
	EventDocumentDeleted = "DOCUMENT_DELETED"

	// EventOwnershipViolation is recorded when a caller's identity
	// does not match the stored owner of a document. Reported to the
	// caller as not-found; recorded distinctly here.
	EventOwnershipViolation = "OWNERSHIP_VIOLATION"

	// EventIntegrityFailure is recorded when stored content fails its
	// hash or authentication check on retrieval.
	EventIntegrityFailure = "INTEGRITY_FAILURE"

	// Rate limiting events

	// EventRateLimitExceeded is recorded when the sliding-window limit
	// rejects a request.
	EventRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)
