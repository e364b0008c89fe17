package ipvault

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/corvusec/ipvault/docstore"
)

// integrityPacePerSecond bounds how many documents per second a full
// integrity pass decrypts, so the sweep cannot starve live traffic of
// disk bandwidth.
const integrityPacePerSecond = 25

// All maintenance entry points are idempotent and safe to run
// concurrently with live traffic. They are meant to be driven by an
// external scheduler (cron, a ticker goroutine in the embedding
// service).

// SweepExpiredSessions removes expired and inactive sessions from both
// tiers. Returns the number removed.
func (v *Vault) SweepExpiredSessions(ctx context.Context) (int, error) {
	return v.Sessions.SweepExpired(ctx)
}

// SweepFailedDocuments removes failed task rows older than retention.
func (v *Vault) SweepFailedDocuments(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultFailedRetention
	}
	return v.Documents.SweepFailed(ctx, retention)
}

// SweepTempArtifacts removes stranded document temp files older than
// maxAge.
func (v *Vault) SweepTempArtifacts(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultTempMaxAge
	}
	return v.Documents.CleanupTemp(ctx, maxAge)
}

// SweepAuditLog removes durable audit rows older than the configured
// retention. Returns the number removed.
func (v *Vault) SweepAuditLog(ctx context.Context) (int, error) {
	cutoff := v.now().Add(-v.auditRetention)
	removed, err := v.Auditor.SweepBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		v.logger.Info("Swept audit log", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// IntegrityReport aggregates per-identity verification results from a
// full pass over the document store.
type IntegrityReport struct {
	Identities int
	Total      int
	Verified   int
	Missing    int
	Corrupt    int
}

// Percent is the share of documents that verified, 100 for an empty
// store.
func (r *IntegrityReport) Percent() float64 {
	if r.Total == 0 {
		return 100
	}
	return 100 * float64(r.Verified) / float64(r.Total)
}

// VerifyAllIntegrity verifies every stored document of every identity,
// paced so the pass cannot monopolize disk I/O. Failures are recorded
// as security events by the document store.
func (v *Vault) VerifyAllIntegrity(ctx context.Context) (*IntegrityReport, error) {
	identities, err := v.Documents.Identities(ctx)
	if err != nil {
		return nil, err
	}

	pacer := rate.NewLimiter(rate.Limit(integrityPacePerSecond), integrityPacePerSecond)
	report := &IntegrityReport{Identities: len(identities)}

	for _, identity := range identities {
		docs, err := v.Documents.List(ctx, identity)
		if err != nil {
			return nil, err
		}

		// One pacer token per document ahead of the batch verify
		// keeps the aggregate decrypt rate bounded.
		for range docs {
			if err := pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("integrity pass cancelled: %w", err)
			}
		}

		r, err := v.Documents.VerifyIntegrity(ctx, identity)
		if err != nil {
			return nil, err
		}

		report.Total += r.Total
		report.Verified += r.Verified
		report.Missing += r.Missing
		report.Corrupt += r.Corrupt
		v.inst.Metrics().RecordIntegrityFailures(ctx, r.Missing, r.Corrupt)
	}

	v.logger.Info("Integrity verification complete",
		"identities", report.Identities,
		"total", report.Total,
		"verified", report.Verified,
		"missing", report.Missing,
		"corrupt", report.Corrupt)

	return report, nil
}

// MetricsSnapshot is a point-in-time view of vault occupancy.
type MetricsSnapshot struct {
	ActiveSessions int                  `json:"active_sessions"`
	Documents      *docstore.UsageStats `json:"documents"`
	CollectedAt    time.Time            `json:"collected_at"`
}

// CollectMetrics gathers occupancy counts from both session and
// document storage.
func (v *Vault) CollectMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	active, err := v.Sessions.ActiveCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}

	stats, err := v.Documents.GlobalStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate document stats: %w", err)
	}

	return &MetricsSnapshot{
		ActiveSessions: active,
		Documents:      stats,
		CollectedAt:    v.now(),
	}, nil
}
