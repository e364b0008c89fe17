package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/storage"
	"github.com/corvusec/ipvault/storage/memory"
)

type storeFixture struct {
	store   *Store
	fast    *memory.FastStore
	durable *memory.DurableStore
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	fast := memory.NewFastStore(nil)
	t.Cleanup(fast.Close)
	durable := memory.NewDurableStore()
	auditor := security.NewAuditor(durable, fast, nil, nil)

	store, err := NewStore(Config{
		SigningKey: testSigningKey,
		SessionTTL: time.Hour,
	}, fast, durable, auditor)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return &storeFixture{store: store, fast: fast, durable: durable}
}

func TestNewStoreRejectsShortKey(t *testing.T) {
	durable := memory.NewDurableStore()
	auditor := security.NewAuditor(durable, nil, nil, nil)

	if _, err := NewStore(Config{SigningKey: []byte("short")}, nil, durable, auditor); err == nil {
		t.Error("expected error for short signing key")
	}
}

func TestCreateAndValidate(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Secret == "" || sess.ID == "" {
		t.Fatal("Create returned incomplete session")
	}
	if !sess.Active {
		t.Error("created session not active")
	}

	got, err := fx.store.Validate(ctx, sess.Secret, "identity-a")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("validated session ID = %q, want %q", got.ID, sess.ID)
	}

	// Creation updates the identity contact record.
	if _, err := fx.durable.GetIdentity(ctx, "identity-a"); err != nil {
		t.Errorf("identity record missing after Create: %v", err)
	}
}

func TestValidateIdentityMismatch(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := fx.store.Validate(ctx, sess.Secret, "identity-b"); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("Validate with foreign identity: err = %v, want ErrIdentityMismatch", err)
	}

	// The mismatch lands in the audit log under the presenting
	// identity.
	records, err := fx.durable.QueryAudit(ctx, "identity-b", time.Time{}, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(records) != 1 || records[0].Action != security.EventIdentityMismatch {
		t.Errorf("expected one %s record, got %v", security.EventIdentityMismatch, records)
	}
}

func TestValidateGarbageSecret(t *testing.T) {
	fx := newStoreFixture(t)

	if _, err := fx.store.Validate(context.Background(), "garbage", "identity-a"); !errors.Is(err, ErrSecretInvalid) {
		t.Errorf("Validate garbage secret: err = %v, want ErrSecretInvalid", err)
	}
}

func TestValidateExpiredSecret(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fx.store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := fx.store.Validate(ctx, sess.Secret, "identity-a"); !errors.Is(err, ErrSecretExpired) {
		t.Errorf("Validate expired secret: err = %v, want ErrSecretExpired", err)
	}
}

func TestValidateFallsBackToDurable(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Drop the cache entry; validation must survive on the durable
	// tier alone.
	if err := fx.fast.Delete(ctx, "session:"+sess.Secret); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := fx.store.Validate(ctx, sess.Secret, "identity-a")
	if err != nil {
		t.Fatalf("Validate after cache eviction: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("session ID = %q, want %q", got.ID, sess.ID)
	}

	// Validation repopulates the cache.
	if _, err := fx.fast.Get(ctx, "session:"+sess.Secret); err != nil {
		t.Errorf("session not re-cached after durable fallback: %v", err)
	}
}

func TestValidateRefreshesCachedTimestamp(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := time.Now().Add(10 * time.Minute)
	fx.store.now = func() time.Time { return later }

	// A cache-hit validation rewrites the cached copy with the bumped
	// last-accessed timestamp.
	if _, err := fx.store.Validate(ctx, sess.Secret, "identity-a"); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	raw, err := fx.fast.Get(ctx, "session:"+sess.Secret)
	if err != nil {
		t.Fatalf("Get cached session: %v", err)
	}
	var cached storage.Session
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		t.Fatalf("unmarshal cached session: %v", err)
	}
	if !cached.LastAccessedAt.Equal(later) {
		t.Errorf("cached LastAccessedAt = %v, want %v", cached.LastAccessedAt, later)
	}
}

func TestInvalidateWithMetrics(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "session-test"})
	if err != nil {
		t.Fatalf("instrumentation.New: %v", err)
	}
	t.Cleanup(func() { inst.Shutdown(context.Background()) })

	fast := memory.NewFastStore(nil)
	t.Cleanup(fast.Close)
	durable := memory.NewDurableStore()
	auditor := security.NewAuditor(durable, fast, inst.Metrics(), nil)

	store, err := NewStore(Config{
		SigningKey: testSigningKey,
		SessionTTL: time.Hour,
		Metrics:    inst.Metrics(),
	}, fast, durable, auditor)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	sess, err := store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok, err := store.Invalidate(ctx, sess.Secret, "identity-a")
	if err != nil || !ok {
		t.Fatalf("Invalidate = %v, %v, want true, nil", ok, err)
	}

	if _, err := store.Create(ctx, "identity-b", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := store.InvalidateAll(ctx, "identity-b")
	if err != nil || n != 1 {
		t.Fatalf("InvalidateAll = %d, %v, want 1, nil", n, err)
	}
}

func TestValidateEvictsMalformedCacheEntry(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fx.fast.Set(ctx, "session:"+sess.Secret, "not-json", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := fx.store.Validate(ctx, sess.Secret, "identity-a"); err != nil {
		t.Fatalf("Validate with malformed cache entry: %v", err)
	}
}

func TestValidateAfterInvalidate(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	sess, err := fx.store.Create(ctx, "identity-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := fx.store.Invalidate(ctx, sess.Secret, "identity-a")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if !ok {
		t.Fatal("Invalidate found no active session")
	}

	if _, err := fx.store.Validate(ctx, sess.Secret, "identity-a"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Validate invalidated session: err = %v, want ErrSessionNotFound", err)
	}

	// Invalidating again reports no match.
	ok, err = fx.store.Invalidate(ctx, sess.Secret, "identity-a")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if ok {
		t.Error("second Invalidate reported a match")
	}
}

func TestInvalidateAll(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	var secrets []string
	for i := 0; i < 3; i++ {
		sess, err := fx.store.Create(ctx, "identity-a", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		secrets = append(secrets, sess.Secret)
	}
	other, err := fx.store.Create(ctx, "identity-b", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := fx.store.InvalidateAll(ctx, "identity-a")
	if err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if count != 3 {
		t.Errorf("InvalidateAll = %d, want 3", count)
	}

	for _, secret := range secrets {
		if _, err := fx.store.Validate(ctx, secret, "identity-a"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("session survived InvalidateAll: err = %v", err)
		}
	}
	if _, err := fx.store.Validate(ctx, other.Secret, "identity-b"); err != nil {
		t.Errorf("identity-b session collateral damage: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	if _, err := fx.store.Create(ctx, "identity-a", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fx.store.Create(ctx, "identity-b", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fx.store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	count, err := fx.store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if count != 2 {
		t.Errorf("SweepExpired = %d, want 2", count)
	}

	active, err := fx.store.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if active != 0 {
		t.Errorf("ActiveCount after sweep = %d, want 0", active)
	}
}

func TestActiveCount(t *testing.T) {
	fx := newStoreFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := fx.store.Create(ctx, "identity-a", ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	count, err := fx.store.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if count != 2 {
		t.Errorf("ActiveCount = %d, want 2", count)
	}
}
