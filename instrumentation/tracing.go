package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys.
//
// Never put secrets or raw network addresses into attributes. Session
// secrets, master secrets, and plaintext content must not appear in
// telemetry; identity tokens appear only truncated, and only in logs,
// never here.
const (
	// Admission attributes
	AttrAdmissionDecision = "vault.admission.decision"
	AttrRateLimiterType   = "vault.rate_limiter.type"

	// Security attributes
	AttrSecurityEventKind   = "vault.security.event_kind"
	AttrAuditAction         = "vault.audit.action"
	AttrEncryptionOperation = "vault.encryption.operation"

	// Document attributes
	AttrDocumentDedup   = "vault.document.dedup"
	AttrIntegrityStatus = "vault.document.integrity_status"

	// Storage attributes
	AttrStorageOperation = "vault.storage.operation"
	AttrStorageResult    = "vault.storage.result"
	AttrStorageType      = "vault.storage.type"
)

// RecordError records an error on a span with proper status codes
// (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddStorageAttributes adds storage operation attributes to a span
// (nil-safe).
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddAdmissionAttributes adds admission decision attributes to a span
// (nil-safe).
func AddAdmissionAttributes(span trace.Span, decision string) {
	SetSpanAttributes(span,
		attribute.String(AttrAdmissionDecision, decision),
	)
}
