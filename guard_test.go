package ipvault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/session"
)

func cleanRequest(addr string) AdmitRequest {
	return AdmitRequest{
		RemoteAddr: addr,
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64)",
		Path:       "/documents",
	}
}

func TestAdmitFirstContact(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	res, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !res.SessionCreated {
		t.Error("first contact did not mint a session")
	}
	if res.Session == nil || res.Session.Secret == "" {
		t.Fatal("admission returned no session")
	}
	if res.Identity == "" || res.Identity == "192.0.2.10" {
		t.Errorf("identity not derived: %q", res.Identity)
	}
	if res.Rate.Limit != DefaultRateLimit {
		t.Errorf("Rate.Limit = %d, want %d", res.Rate.Limit, DefaultRateLimit)
	}
	if res.Rate.Remaining != DefaultRateLimit-1 {
		t.Errorf("Rate.Remaining = %d, want %d", res.Rate.Remaining, DefaultRateLimit-1)
	}
}

func TestAdmitReusesSession(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	first, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	req := cleanRequest("192.0.2.10")
	req.Secret = first.Session.Secret
	second, err := v.Admit(ctx, req)
	if err != nil {
		t.Fatalf("Admit with secret: %v", err)
	}
	if second.SessionCreated {
		t.Error("valid secret re-minted a session")
	}
	if second.Session.ID != first.Session.ID {
		t.Errorf("session ID changed: %q != %q", second.Session.ID, first.Session.ID)
	}
}

func TestAdmitForeignSecretRejected(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	first, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	req := cleanRequest("198.51.100.99")
	req.Secret = first.Session.Secret
	if _, err := v.Admit(ctx, req); !errors.Is(err, session.ErrIdentityMismatch) {
		t.Errorf("Admit with foreign secret: err = %v, want ErrIdentityMismatch", err)
	}
}

func TestAdmitGarbageSecretMintsFresh(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	req := cleanRequest("192.0.2.10")
	req.Secret = "garbage-secret"
	res, err := v.Admit(ctx, req)
	if err != nil {
		t.Fatalf("Admit with garbage secret: %v", err)
	}
	if !res.SessionCreated {
		t.Error("garbage secret did not fall through to minting")
	}
}

func TestAdmitSharedWindowLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = RateLimitConfig{
		Requests: 3,
		Window:   time.Hour,
		// Keep the local bucket out of the way.
		LocalRate:  1000,
		LocalBurst: 1000,
	}
	v := newTestVault(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
		if err != nil {
			t.Fatalf("Admit %d: %v", i+1, err)
		}
		if res.Rate.Remaining != 3-i-1 {
			t.Errorf("Remaining after request %d = %d, want %d", i+1, res.Rate.Remaining, 3-i-1)
		}
	}

	_, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
	rle, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("request over limit: err = %v, want RateLimitError", err)
	}
	if rle.Limit != 3 {
		t.Errorf("Limit = %d, want 3", rle.Limit)
	}
	// The window frees a slot when its oldest member ages out, about
	// one window from the first request.
	until := time.Until(rle.Reset)
	if until < 50*time.Minute || until > 70*time.Minute {
		t.Errorf("Reset %v from now, want about an hour", until)
	}

	// Other identities are unaffected.
	if _, err := v.Admit(ctx, cleanRequest("198.51.100.99")); err != nil {
		t.Errorf("other identity throttled: %v", err)
	}
}

func TestAdmitLocalBucketLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = RateLimitConfig{
		Requests:   1000,
		Window:     time.Hour,
		LocalRate:  1,
		LocalBurst: 2,
	}
	v := newTestVault(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := v.Admit(ctx, cleanRequest("192.0.2.10")); err != nil {
			t.Fatalf("Admit %d: %v", i+1, err)
		}
	}

	_, err := v.Admit(ctx, cleanRequest("192.0.2.10"))
	if _, ok := IsRateLimited(err); !ok {
		t.Errorf("request over local burst: err = %v, want RateLimitError", err)
	}
}

func TestAdmitSuspiciousUserAgent(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	req := cleanRequest("192.0.2.10")
	req.UserAgent = "curl/8.4.0"
	if _, err := v.Admit(ctx, req); !errors.Is(err, ErrSuspicious) {
		t.Errorf("Admit with scripted user agent: err = %v, want ErrSuspicious", err)
	}
}

func TestAdmitSuspiciousPath(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	req := cleanRequest("192.0.2.10")
	req.Path = "/documents/../../etc/passwd"
	if _, err := v.Admit(ctx, req); !errors.Is(err, ErrSuspicious) {
		t.Errorf("Admit with traversal path: err = %v, want ErrSuspicious", err)
	}
}

func TestAdmitBurstDetection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Anomaly = security.DetectorConfig{BurstThreshold: 5}
	cfg.RateLimit = RateLimitConfig{
		Requests:   1000,
		Window:     time.Hour,
		LocalRate:  1000,
		LocalBurst: 1000,
	}
	v := newTestVault(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := v.Admit(ctx, cleanRequest("192.0.2.10")); err != nil {
			t.Fatalf("Admit %d: %v", i+1, err)
		}
	}
	if _, err := v.Admit(ctx, cleanRequest("192.0.2.10")); !errors.Is(err, ErrSuspicious) {
		t.Errorf("Admit over burst threshold: err = %v, want ErrSuspicious", err)
	}
}

func TestAdmitEquivalentAddressFormsShareIdentity(t *testing.T) {
	v := newTestVault(t, testConfig(t))
	ctx := context.Background()

	a, err := v.Admit(ctx, cleanRequest("2001:db8::1"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	b, err := v.Admit(ctx, cleanRequest("2001:0db8:0000:0000:0000:0000:0000:0001"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if a.Identity != b.Identity {
		t.Error("equivalent IPv6 forms derived different identities")
	}
}
