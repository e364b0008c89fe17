package ipvault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvusec/ipvault/docstore"
	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/session"
	"github.com/corvusec/ipvault/storage"
)

// Vault composes the security core over the two storage tiers. All
// fields are initialized by New and safe for concurrent use.
type Vault struct {
	Sessions  *session.Store
	Documents *docstore.Store
	Auditor   *security.Auditor
	Deriver   *security.Deriver
	Detector  *security.Detector
	Policy    *security.Policy

	fast    storage.FastStore
	durable storage.DurableStore
	local   *security.LocalRateLimiter
	inst    *instrumentation.Instrumentation

	rateLimit      RateLimitConfig
	auditRetention time.Duration
	logger         *slog.Logger

	now func() time.Time
}

// New wires a vault over the given storage tiers. Close must be
// called when the vault is no longer needed.
func New(cfg Config, fast storage.FastStore, durable storage.DurableStore) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fast == nil || durable == nil {
		return nil, fmt.Errorf("both storage tiers are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "ipvault",
		Enabled:     cfg.EnableInstrumentation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	deriver := security.NewDeriver(cfg.IdentitySalt, logger)

	engine, err := security.NewEngine(cfg.MasterSecret, cfg.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crypto engine: %w", err)
	}

	auditor := security.NewAuditor(durable, fast, inst.Metrics(), logger)

	if cfg.Anomaly.Logger == nil {
		cfg.Anomaly.Logger = logger
	}
	detector := security.NewDetector(fast, auditor, cfg.Anomaly)

	policy := security.NewPolicy(cfg.Policy)

	sessions, err := session.NewStore(cfg.sessionConfig(logger, inst.Metrics()), fast, durable, auditor)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if cfg.Documents.Logger == nil {
		cfg.Documents.Logger = logger
	}
	if cfg.Documents.Metrics == nil {
		cfg.Documents.Metrics = inst.Metrics()
	}
	documents, err := docstore.New(cfg.Documents, engine, policy, auditor, durable)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}

	rateLimit := cfg.RateLimit.withDefaults()

	var local *security.LocalRateLimiter
	if rateLimit.LocalRate > 0 {
		local = security.NewLocalRateLimiter(rateLimit.LocalRate, rateLimit.LocalBurst, logger)
	}

	auditRetention := cfg.AuditRetention
	if auditRetention <= 0 {
		auditRetention = DefaultAuditRetention
	}

	v := &Vault{
		Sessions:       sessions,
		Documents:      documents,
		Auditor:        auditor,
		Deriver:        deriver,
		Detector:       detector,
		Policy:         policy,
		fast:           fast,
		durable:        durable,
		local:          local,
		inst:           inst,
		rateLimit:      rateLimit,
		auditRetention: auditRetention,
		logger:         logger,
		now:            time.Now,
	}

	if err := inst.RegisterOccupancyCallbacks(
		func() int64 {
			n, err := sessions.ActiveCount(context.Background())
			if err != nil {
				return 0
			}
			return int64(n)
		},
		func() int64 {
			stats, err := documents.GlobalStats(context.Background())
			if err != nil {
				return 0
			}
			return int64(stats.DocumentCount)
		},
	); err != nil {
		return nil, fmt.Errorf("failed to register occupancy gauges: %w", err)
	}

	logger.Info("Vault initialized",
		"rate_limit", rateLimit.Requests,
		"rate_window", rateLimit.Window,
		"session_ttl", cfg.SessionTTL)

	return v, nil
}

// Instrumentation exposes the vault's telemetry handle so embedding
// services can register exporters or record their own metrics.
func (v *Vault) Instrumentation() *instrumentation.Instrumentation {
	return v.inst
}

// Close stops background work and shuts down instrumentation. The
// storage tiers are owned by the caller and stay open.
func (v *Vault) Close(ctx context.Context) error {
	if v.local != nil {
		v.local.Stop()
	}
	return v.inst.Shutdown(ctx)
}
