package ipvault

import (
	"errors"
	"fmt"
	"time"
)

// ErrSuspicious rejects a request the anomaly detector flagged. The
// specific heuristics that fired are in the audit log, not the error,
// so callers cannot leak detection details to the requester.
var ErrSuspicious = errors.New("request flagged as suspicious")

// RateLimitError rejects a request that exceeded the shared sliding
// window. Reset is when the window next frees a slot.
type RateLimitError struct {
	Limit  int
	Window time.Duration
	Reset  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per %s exceeded, resets at %s",
		e.Limit, e.Window, e.Reset.UTC().Format(time.RFC3339))
}

// IsRateLimited reports whether err is a rate limit rejection and
// returns the typed error for its reset information.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// FailureMode states how an operation behaves when its backing store
// is unreachable or erroring.
type FailureMode string

const (
	// FailOpen: the protective check is skipped and the request
	// proceeds. Availability wins over throttling accuracy.
	FailOpen FailureMode = "fail-open"

	// FailClosed: the operation is denied. Confidentiality and
	// integrity win over availability.
	FailClosed FailureMode = "fail-closed"
)

// FailurePolicy is the per-operation storage failure policy. Guard and
// the component implementations follow it; it is exported so operators
// can see the posture in one place.
var FailurePolicy = map[string]FailureMode{
	"rate_limit":         FailOpen,
	"anomaly_detection":  FailOpen,
	"audit_logging":      FailOpen,
	"session_validation": FailClosed,
	"session_creation":   FailClosed,
	"document_store":     FailClosed,
	"document_retrieve":  FailClosed,
	"document_delete":    FailClosed,
}
