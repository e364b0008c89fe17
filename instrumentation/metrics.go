package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the vault. Record
// methods are no-ops on a nil receiver, so components that run
// without instrumentation skip the nil checks.
type Metrics struct {
	// Admission Metrics
	AdmissionsTotal   metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Security Metrics
	SecurityEventsTotal metric.Int64Counter
	AuditEventsTotal    metric.Int64Counter

	// Session Metrics
	SessionsCreated     metric.Int64Counter
	SessionsInvalidated metric.Int64Counter
	ActiveSessions      metric.Int64ObservableGauge

	// Document Metrics
	DocumentsStored    metric.Int64Counter
	DocumentsRetrieved metric.Int64Counter
	DocumentsDeleted   metric.Int64Counter
	DocumentBytes      metric.Int64Counter
	IntegrityFailures  metric.Int64Counter
	StoredDocuments    metric.Int64ObservableGauge

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	guardMeter := inst.Meter("guard")
	securityMeter := inst.Meter("security")
	sessionMeter := inst.Meter("session")
	docMeter := inst.Meter("docstore")
	storageMeter := inst.Meter("storage")

	var err error
	m.AdmissionsTotal, err = guardMeter.Int64Counter(
		"ipvault.admissions.total",
		metric.WithDescription("Admission decisions by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admissions.total counter: %w", err)
	}

	m.RateLimitExceeded, err = guardMeter.Int64Counter(
		"ipvault.ratelimit.exceeded",
		metric.WithDescription("Requests rejected by a rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.SecurityEventsTotal, err = securityMeter.Int64Counter(
		"ipvault.security.events.total",
		metric.WithDescription("Security events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.events.total counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"ipvault.audit.events.total",
		metric.WithDescription("Audit log entries appended"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.SessionsCreated, err = sessionMeter.Int64Counter(
		"ipvault.sessions.created",
		metric.WithDescription("Sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.created counter: %w", err)
	}

	m.SessionsInvalidated, err = sessionMeter.Int64Counter(
		"ipvault.sessions.invalidated",
		metric.WithDescription("Sessions invalidated"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.invalidated counter: %w", err)
	}

	m.ActiveSessions, err = sessionMeter.Int64ObservableGauge(
		"ipvault.sessions.active",
		metric.WithDescription("Active, unexpired sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.active gauge: %w", err)
	}

	m.DocumentsStored, err = docMeter.Int64Counter(
		"ipvault.documents.stored",
		metric.WithDescription("Documents stored, including deduplicated uploads"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.stored counter: %w", err)
	}

	m.DocumentsRetrieved, err = docMeter.Int64Counter(
		"ipvault.documents.retrieved",
		metric.WithDescription("Documents retrieved"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.retrieved counter: %w", err)
	}

	m.DocumentsDeleted, err = docMeter.Int64Counter(
		"ipvault.documents.deleted",
		metric.WithDescription("Documents securely deleted"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.deleted counter: %w", err)
	}

	m.DocumentBytes, err = docMeter.Int64Counter(
		"ipvault.documents.bytes",
		metric.WithDescription("Original bytes accepted into the store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.bytes counter: %w", err)
	}

	m.IntegrityFailures, err = docMeter.Int64Counter(
		"ipvault.documents.integrity_failures",
		metric.WithDescription("Documents found missing or corrupt"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.integrity_failures counter: %w", err)
	}

	m.StoredDocuments, err = docMeter.Int64ObservableGauge(
		"ipvault.documents.count",
		metric.WithDescription("Documents currently stored"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents.count gauge: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"ipvault.storage.operations.total",
		metric.WithDescription("Storage operations by type and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"ipvault.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"ipvault.encryption.operations.total",
		metric.WithDescription("Encrypt and decrypt operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = securityMeter.Float64Histogram(
		"ipvault.encryption.duration",
		metric.WithDescription("Encryption operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	return m, nil
}

// RecordAdmission records an admission decision
// ("admitted", "rate_limited", "suspicious", "invalid_session").
func (m *Metrics) RecordAdmission(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAdmissionDecision, decision),
	))
}

// RecordRateLimitExceeded records a rate limiter rejection
// ("local" or "shared").
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordSecurityEvent records a security event by kind.
func (m *Metrics) RecordSecurityEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.SecurityEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSecurityEventKind, kind),
	))
}

// RecordAuditEvent records an appended audit entry by action.
func (m *Metrics) RecordAuditEvent(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditAction, action),
	))
}

// RecordSessionCreated records a session creation.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(ctx, 1)
}

// RecordSessionInvalidated records count invalidated sessions.
func (m *Metrics) RecordSessionInvalidated(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.SessionsInvalidated.Add(ctx, int64(count))
}

// RecordDocumentStored records a stored document and its original
// size. Deduplicated uploads set dedup.
func (m *Metrics) RecordDocumentStored(ctx context.Context, originalBytes int64, dedup bool) {
	if m == nil {
		return
	}
	m.DocumentsStored.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool(AttrDocumentDedup, dedup),
	))
	if !dedup {
		m.DocumentBytes.Add(ctx, originalBytes)
	}
}

// RecordDocumentRetrieved records a successful retrieval.
func (m *Metrics) RecordDocumentRetrieved(ctx context.Context) {
	if m == nil {
		return
	}
	m.DocumentsRetrieved.Add(ctx, 1)
}

// RecordDocumentDeleted records a secure deletion.
func (m *Metrics) RecordDocumentDeleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.DocumentsDeleted.Add(ctx, 1)
}

// RecordIntegrityFailures records documents found missing or corrupt.
func (m *Metrics) RecordIntegrityFailures(ctx context.Context, missing, corrupt int) {
	if m == nil {
		return
	}
	if missing > 0 {
		m.IntegrityFailures.Add(ctx, int64(missing), metric.WithAttributes(
			attribute.String(AttrIntegrityStatus, "missing"),
		))
	}
	if corrupt > 0 {
		m.IntegrityFailures.Add(ctx, int64(corrupt), metric.WithAttributes(
			attribute.String(AttrIntegrityStatus, "corrupt"),
		))
	}
}

// RecordStorageOperation records a storage operation with its result
// and duration.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordEncryptionOperation records an encrypt or decrypt operation.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrEncryptionOperation, operation),
	)
	m.EncryptionOperationsTotal.Add(ctx, 1, attrs)
	m.EncryptionDuration.Record(ctx, durationMs, attrs)
}
