package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/storage"
)

const (
	// identityLogLength is the number of identity-token characters
	// included in human-readable log output.
	identityLogLength = 8

	// DefaultEventRingCapacity bounds the fast-store security event
	// ring buffer. Oldest entries are dropped beyond this.
	DefaultEventRingCapacity = 10_000

	// eventRingKey is the fast-store key of the security event ring.
	eventRingKey = "security_events"
)

// SecurityEvent is one entry in the security event stream.
type SecurityEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Identity  string         `json:"identity"`
	Kind      string         `json:"kind"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Auditor records security-relevant actions. Every record goes to the
// durable audit log; security events are additionally mirrored into a
// bounded ring buffer in the fast store for windowed analysis by the
// anomaly detector and the monitoring jobs.
//
// Recording never fails the calling operation: storage errors are
// logged locally and swallowed.
type Auditor struct {
	durable      storage.AuditStore
	fast         storage.FastStore
	metrics      *instrumentation.Metrics
	ringCapacity int64
	logger       *slog.Logger
}

// NewAuditor creates an auditor. The fast store and metrics may be
// nil, skipping the ring buffer mirror and the event counters.
func NewAuditor(durable storage.AuditStore, fast storage.FastStore, metrics *instrumentation.Metrics, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		durable:      durable,
		fast:         fast,
		metrics:      metrics,
		ringCapacity: DefaultEventRingCapacity,
		logger:       logger,
	}
}

// Record appends an audit entry for the identity. Failures are logged
// and never propagated.
func (a *Auditor) Record(ctx context.Context, identity, action string, details map[string]any) {
	rec := &storage.AuditRecord{
		Identity:  identity,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.durable.AppendAudit(ctx, rec); err != nil {
		a.logger.Error("failed to append audit record",
			"action", action,
			"identity", util.SafeTruncate(identity, identityLogLength),
			"error", err)
		return
	}
	a.metrics.RecordAuditEvent(ctx, action)
}

// RecordSecurityEvent records a security event: durable audit entry,
// ring buffer entry, and a structured warning log. The ring entry is a
// compact "KIND:identity:unixSeconds" string so windowed analysis can
// parse it without JSON decoding.
func (a *Auditor) RecordSecurityEvent(ctx context.Context, ev SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = "WARNING"
	}

	a.Record(ctx, ev.Identity, ev.Kind, ev.Details)
	a.metrics.RecordSecurityEvent(ctx, ev.Kind)

	if a.fast != nil {
		entry := fmt.Sprintf("%s:%s:%d", ev.Kind, ev.Identity, ev.Timestamp.Unix())
		if err := a.fast.RingPush(ctx, eventRingKey, entry, a.ringCapacity); err != nil {
			a.logger.Error("failed to push security event to ring buffer",
				"kind", ev.Kind, "error", err)
		}
	}

	a.logger.Warn("security event",
		"kind", ev.Kind,
		"severity", ev.Severity,
		"identity", util.SafeTruncate(ev.Identity, identityLogLength),
		"details", ev.Details)
}

// RecentEvents returns up to limit entries from the fast-store ring
// buffer, newest first, parsed back into events. Entries that fail to
// parse are skipped.
func (a *Auditor) RecentEvents(ctx context.Context, limit int64) ([]SecurityEvent, error) {
	if a.fast == nil {
		return nil, nil
	}
	raw, err := a.fast.RingRange(ctx, eventRingKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read security event ring: %w", err)
	}

	events := make([]SecurityEvent, 0, len(raw))
	for _, entry := range raw {
		ev, ok := parseRingEntry(entry)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Query returns durable audit records for an identity within the time
// range, newest first.
func (a *Auditor) Query(ctx context.Context, identity string, since, until time.Time, limit int) ([]*storage.AuditRecord, error) {
	return a.durable.QueryAudit(ctx, identity, since, until, limit)
}

// SweepBefore deletes durable audit records created before cutoff and
// returns the count removed. Intended for the external retention job.
func (a *Auditor) SweepBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return a.durable.DeleteAuditBefore(ctx, cutoff)
}

// parseRingEntry parses "KIND:identity:unixSeconds". Neither the kind
// nor the identity contains a colon, so splitting on the first and
// last colon is unambiguous.
func parseRingEntry(entry string) (SecurityEvent, bool) {
	first := strings.Index(entry, ":")
	last := strings.LastIndex(entry, ":")
	if first == -1 || last == first {
		return SecurityEvent{}, false
	}
	ts, err := strconv.ParseInt(entry[last+1:], 10, 64)
	if err != nil {
		return SecurityEvent{}, false
	}
	return SecurityEvent{
		Timestamp: time.Unix(ts, 0).UTC(),
		Identity:  entry[first+1 : last],
		Kind:      entry[:first],
	}, true
}
