package ipvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/session"
	"github.com/corvusec/ipvault/storage"
)

// windowKeyPrefix namespaces sliding window keys in the fast store.
const windowKeyPrefix = "rate_limit:"

// AdmitRequest is one incoming request presented to the guard.
type AdmitRequest struct {
	// RemoteAddr is the caller's network address as seen by the
	// transport. It is hashed immediately and never stored or logged
	// raw.
	RemoteAddr string

	// UserAgent and Path are inspected by the anomaly detector.
	UserAgent string
	Path      string

	// Secret is the session secret presented by the caller, empty on
	// first contact.
	Secret string
}

// RateInfo reports the caller's standing against the shared window.
type RateInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// AdmitResult is a successful admission.
type AdmitResult struct {
	// Identity is the derived identity token for this caller.
	Identity string

	// Session is the validated or freshly minted session.
	Session *storage.Session

	// SessionCreated is true when no valid secret was presented and a
	// new session was minted.
	SessionCreated bool

	// Rate is the caller's current rate limit standing.
	Rate RateInfo
}

// Admit runs the full admission pipeline: derive the identity, check
// the local bucket and the shared sliding window, run anomaly
// detection, then validate the presented session secret or mint a new
// session.
//
// Rate limiting comes before session work so throttled callers cost
// no durable tier I/O. A secret bound to a different identity rejects
// rather than re-minting; an expired or unknown secret mints fresh.
func (v *Vault) Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	now := v.now()
	identity := v.Deriver.Derive(req.RemoteAddr)

	if v.local != nil && !v.local.Allow(identity) {
		v.inst.Metrics().RecordRateLimitExceeded(ctx, "local")
		v.recordRateLimited(ctx, identity)
		return nil, &RateLimitError{
			Limit:  v.rateLimit.Requests,
			Window: v.rateLimit.Window,
			Reset:  now.Add(time.Second),
		}
	}

	rate, allowed := v.checkWindow(ctx, identity, now)
	if !allowed {
		v.inst.Metrics().RecordRateLimitExceeded(ctx, "shared")
		v.recordRateLimited(ctx, identity)
		return nil, &RateLimitError{
			Limit:  v.rateLimit.Requests,
			Window: v.rateLimit.Window,
			Reset:  rate.Reset,
		}
	}

	if v.Detector.Inspect(ctx, identity, security.RequestMetadata{
		UserAgent: req.UserAgent,
		Path:      req.Path,
	}) {
		v.inst.Metrics().RecordAdmission(ctx, "suspicious")
		return nil, ErrSuspicious
	}

	sess, created, err := v.resolveSession(ctx, identity, req)
	if err != nil {
		v.inst.Metrics().RecordAdmission(ctx, "invalid_session")
		return nil, err
	}
	if created {
		v.inst.Metrics().RecordSessionCreated(ctx)
	}

	v.inst.Metrics().RecordAdmission(ctx, "admitted")

	return &AdmitResult{
		Identity:       identity,
		Session:        sess,
		SessionCreated: created,
		Rate:           rate,
	}, nil
}

// resolveSession validates the presented secret or mints a new
// session. A secret bound to a different identity is a hard rejection;
// anything else invalid falls through to minting.
func (v *Vault) resolveSession(ctx context.Context, identity string, req AdmitRequest) (*storage.Session, bool, error) {
	if req.Secret != "" {
		sess, err := v.Sessions.Validate(ctx, req.Secret, identity)
		switch {
		case err == nil:
			return sess, false, nil
		case errors.Is(err, session.ErrIdentityMismatch):
			return nil, false, err
		case errors.Is(err, session.ErrSecretInvalid),
			errors.Is(err, session.ErrSecretExpired),
			errors.Is(err, storage.ErrSessionNotFound):
			// Stale or forged secret: fall through to minting.
		default:
			// Durable tier failure: session validation fails closed.
			return nil, false, err
		}
	}

	sess, err := v.Sessions.Create(ctx, identity, req.UserAgent)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// checkWindow evaluates and advances the shared sliding window. Fast
// tier errors fail open: the request is admitted and the error logged.
func (v *Vault) checkWindow(ctx context.Context, identity string, now time.Time) (RateInfo, bool) {
	key := windowKeyPrefix + identity
	windowSeconds := int64(v.rateLimit.Window.Seconds())
	limit := v.rateLimit.Requests

	failOpen := RateInfo{
		Limit:     limit,
		Remaining: limit,
		Reset:     now.Add(v.rateLimit.Window),
	}

	if err := v.fast.WindowTrim(ctx, key, now.Unix()-windowSeconds); err != nil {
		v.logger.Error("Rate limit window trim failed, admitting request", "error", err)
		return failOpen, true
	}

	count, err := v.fast.WindowCount(ctx, key)
	if err != nil {
		v.logger.Error("Rate limit window count failed, admitting request", "error", err)
		return failOpen, true
	}

	if count >= int64(limit) {
		reset := now.Add(v.rateLimit.Window)
		oldest, ok, err := v.fast.WindowOldest(ctx, key)
		if err != nil {
			v.logger.Error("Rate limit window head read failed, admitting request", "error", err)
			return failOpen, true
		}
		if ok {
			reset = time.Unix(oldest+windowSeconds, 0)
		}
		return RateInfo{Limit: limit, Remaining: 0, Reset: reset}, false
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	if err := v.fast.WindowAdd(ctx, key, member, now.Unix(), v.rateLimit.Window); err != nil {
		v.logger.Error("Rate limit window add failed, admitting request", "error", err)
		return failOpen, true
	}

	return RateInfo{
		Limit:     limit,
		Remaining: limit - int(count) - 1,
		Reset:     now.Add(v.rateLimit.Window),
	}, true
}

func (v *Vault) recordRateLimited(ctx context.Context, identity string) {
	v.Auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
		Identity: identity,
		Kind:     security.EventRateLimitExceeded,
	})
}
