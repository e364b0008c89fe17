package instrumentation

import (
	"context"
	"testing"
)

func TestNewDisabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if inst.Meter("guard") == nil {
		t.Error("Meter returned nil")
	}
	if inst.Tracer("guard") == nil {
		t.Error("Tracer returned nil")
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics returned nil")
	}

	// Recording against no-op providers must be safe.
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordAdmission(ctx, "admitted")
	m.RecordRateLimitExceeded(ctx, "shared")
	m.RecordSessionCreated(ctx)
	m.RecordIntegrityFailures(ctx, 1, 2)

	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Shutdown is idempotent.
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	// Components constructed without instrumentation record against a
	// nil Metrics; every method must be a safe no-op.
	var m *Metrics
	ctx := context.Background()

	m.RecordAdmission(ctx, "admitted")
	m.RecordRateLimitExceeded(ctx, "local")
	m.RecordSecurityEvent(ctx, "RAPID_REQUESTS")
	m.RecordAuditEvent(ctx, "DOCUMENT_STORED")
	m.RecordSessionCreated(ctx)
	m.RecordSessionInvalidated(ctx, 2)
	m.RecordDocumentStored(ctx, 64, false)
	m.RecordDocumentRetrieved(ctx)
	m.RecordDocumentDeleted(ctx)
	m.RecordIntegrityFailures(ctx, 1, 1)
	m.RecordStorageOperation(ctx, "store", "success", 1.5)
	m.RecordEncryptionOperation(ctx, "encrypt", 0.5)
}

func TestNewEnabled(t *testing.T) {
	inst, err := New(Config{
		ServiceName:    "ipvault-test",
		ServiceVersion: "1.2.3",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Shutdown(context.Background())

	if inst.MeterProvider() == nil || inst.TracerProvider() == nil {
		t.Error("providers not initialized")
	}
}

func TestRegisterOccupancyCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Shutdown(context.Background())

	err = inst.RegisterOccupancyCallbacks(
		func() int64 { return 7 },
		func() int64 { return 42 },
	)
	if err != nil {
		t.Errorf("RegisterOccupancyCallbacks: %v", err)
	}

	// Nil callbacks are allowed.
	if err := inst.RegisterOccupancyCallbacks(nil, nil); err != nil {
		t.Errorf("RegisterOccupancyCallbacks with nil callbacks: %v", err)
	}
}
