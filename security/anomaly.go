package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/storage"
)

const (
	// DefaultBurstThreshold is the per-minute request count above
	// which an identity is flagged as rapid-firing.
	DefaultBurstThreshold = 60

	// burstWindow is the short counting window for the burst counter.
	burstWindow = time.Minute
)

// DefaultUserAgentDenylist lists substrings of user-agent values that
// indicate generic automated clients. Matching is case-insensitive.
var DefaultUserAgentDenylist = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python", "go-http",
}

// defaultPathIndicators lists request-path fragments that indicate
// traversal or injection probing.
var defaultPathIndicators = []string{
	"../", "..\\", "/etc/", "/proc/", "cmd=", "exec=",
}

// RequestMetadata is the request surface the detector inspects. The
// transport layer fills it in; the detector never touches the request
// itself.
type RequestMetadata struct {
	UserAgent string
	Path      string
}

// Detector flags suspicious traffic with three independent heuristics:
// burst-rate, user-agent signature, and path probing. Each positive
// hit emits a security event. Detection is best-effort: store errors
// are swallowed and treated as not suspicious, and one heuristic
// failing does not short-circuit the others.
type Detector struct {
	fast           storage.FastStore
	auditor        *Auditor
	burstThreshold int64
	denylist       []string
	logger         *slog.Logger
}

// DetectorConfig holds detector tuning. Zero values use the defaults.
type DetectorConfig struct {
	// BurstThreshold is the requests-per-minute count above which an
	// identity is flagged. Default 60.
	BurstThreshold int64

	// UserAgentDenylist overrides the default denylist when non-nil.
	UserAgentDenylist []string

	Logger *slog.Logger
}

// NewDetector creates a detector over the given fast store and
// auditor.
func NewDetector(fast storage.FastStore, auditor *Auditor, cfg DetectorConfig) *Detector {
	threshold := cfg.BurstThreshold
	if threshold <= 0 {
		threshold = DefaultBurstThreshold
	}
	denylist := cfg.UserAgentDenylist
	if denylist == nil {
		denylist = DefaultUserAgentDenylist
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		fast:           fast,
		auditor:        auditor,
		burstThreshold: threshold,
		denylist:       denylist,
		logger:         logger,
	}
}

// Inspect evaluates all heuristics against the request and returns
// true if any flagged it. Callers decide whether a positive result
// rejects the request or is merely logged.
func (d *Detector) Inspect(ctx context.Context, identity string, meta RequestMetadata) bool {
	suspicious := false

	if d.checkBurst(ctx, identity, meta) {
		suspicious = true
	}
	if d.checkUserAgent(ctx, identity, meta) {
		suspicious = true
	}
	if d.checkPath(ctx, identity, meta) {
		suspicious = true
	}

	return suspicious
}

// checkBurst bumps the per-identity burst counter and flags when the
// short-window rate exceeds the threshold. Counter errors fail open.
func (d *Detector) checkBurst(ctx context.Context, identity string, meta RequestMetadata) bool {
	count, err := d.fast.Increment(ctx, burstKey(identity), burstWindow)
	if err != nil {
		d.logger.Error("burst counter unavailable, skipping check",
			"identity", util.SafeTruncate(identity, identityLogLength),
			"error", err)
		return false
	}
	if count <= d.burstThreshold {
		return false
	}

	d.auditor.RecordSecurityEvent(ctx, SecurityEvent{
		Identity: identity,
		Kind:     EventRapidRequests,
		Details: map[string]any{
			"requests_per_minute": count,
			"user_agent":          meta.UserAgent,
			"path":                meta.Path,
		},
	})
	return true
}

// checkUserAgent flags user agents matching the denylist.
func (d *Detector) checkUserAgent(ctx context.Context, identity string, meta RequestMetadata) bool {
	ua := strings.ToLower(meta.UserAgent)
	if ua == "" {
		return false
	}
	for _, sig := range d.denylist {
		if strings.Contains(ua, sig) {
			d.auditor.RecordSecurityEvent(ctx, SecurityEvent{
				Identity: identity,
				Kind:     EventSuspiciousUserAgent,
				Details: map[string]any{
					"user_agent": ua,
					"path":       meta.Path,
				},
			})
			return true
		}
	}
	return false
}

// checkPath flags request paths carrying traversal or injection
// indicators.
func (d *Detector) checkPath(ctx context.Context, identity string, meta RequestMetadata) bool {
	path := strings.ToLower(meta.Path)
	if path == "" {
		return false
	}
	for _, indicator := range defaultPathIndicators {
		if strings.Contains(path, indicator) {
			d.auditor.RecordSecurityEvent(ctx, SecurityEvent{
				Identity: identity,
				Kind:     EventPathTraversalAttempt,
				Details: map[string]any{
					"path":       meta.Path,
					"user_agent": meta.UserAgent,
				},
			})
			return true
		}
	}
	return false
}

// BurstCount returns the current short-window request count for an
// identity, without incrementing it. Used by monitoring.
func (d *Detector) BurstCount(ctx context.Context, identity string) (int64, error) {
	val, err := d.fast.Get(ctx, burstKey(identity))
	if err != nil {
		if errors.Is(err, storage.ErrCacheMiss) {
			return 0, nil
		}
		return 0, err
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed burst counter value: %w", err)
	}
	return count, nil
}

func burstKey(identity string) string {
	return "rapid_requests:" + identity
}
