package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/corvusec/ipvault/storage"
)

// FastStore is an in-memory stand-in for the fast shared tier. TTLs
// are enforced lazily on read and by a background sweep, so a key can
// linger past expiry but is never observable after it.
type FastStore struct {
	mu sync.RWMutex

	values    map[string]fastValue
	counters  map[string]fastCounter
	windows   map[string]map[string]int64 // key -> member -> score
	windowTTL map[string]time.Time
	rings     map[string][]string // newest first

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

type fastValue struct {
	value     string
	expiresAt time.Time
}

type fastCounter struct {
	count     int64
	expiresAt time.Time
}

// Compile-time interface check
var _ storage.FastStore = (*FastStore)(nil)

// NewFastStore creates a fast store sweeping expired keys every
// minute. Call Close to stop the sweep goroutine.
func NewFastStore(logger *slog.Logger) *FastStore {
	if logger == nil {
		logger = slog.Default()
	}

	fs := &FastStore{
		values:          make(map[string]fastValue),
		counters:        make(map[string]fastCounter),
		windows:         make(map[string]map[string]int64),
		windowTTL:       make(map[string]time.Time),
		rings:           make(map[string][]string),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
	}

	go fs.cleanupLoop()

	return fs
}

func (fs *FastStore) cleanupLoop() {
	ticker := time.NewTicker(fs.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fs.sweepExpired()
		case <-fs.stopCleanup:
			return
		}
	}
}

func (fs *FastStore) sweepExpired() {
	now := time.Now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	removed := 0
	for k, v := range fs.values {
		if now.After(v.expiresAt) {
			delete(fs.values, k)
			removed++
		}
	}
	for k, c := range fs.counters {
		if now.After(c.expiresAt) {
			delete(fs.counters, k)
			removed++
		}
	}
	for k, exp := range fs.windowTTL {
		if now.After(exp) {
			delete(fs.windows, k)
			delete(fs.windowTTL, k)
			removed++
		}
	}

	if removed > 0 {
		fs.logger.Debug("swept expired fast store keys", "removed", removed)
	}
}

// Close stops the background sweep. Safe to call more than once.
func (fs *FastStore) Close() {
	fs.stopOnce.Do(func() {
		close(fs.stopCleanup)
	})
}

// Set stores value under key with the given TTL.
func (fs *FastStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.values[key] = fastValue{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the value stored under key, or storage.ErrCacheMiss.
func (fs *FastStore) Get(_ context.Context, key string) (string, error) {
	fs.mu.RLock()
	v, ok := fs.values[key]
	fs.mu.RUnlock()

	if !ok || time.Now().After(v.expiresAt) {
		return "", storage.ErrCacheMiss
	}
	return v.value, nil
}

// Delete removes key.
func (fs *FastStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.values, key)
	delete(fs.counters, key)
	return nil
}

// Increment atomically increments the counter at key. The TTL is set
// when the counter is created and preserved on subsequent increments.
func (fs *FastStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	c, ok := fs.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = fastCounter{count: 0, expiresAt: now.Add(ttl)}
	}
	c.count++
	fs.counters[key] = c

	return c.count, nil
}

// WindowAdd adds a scored member to the window at key and refreshes
// the key TTL.
func (fs *FastStore) WindowAdd(_ context.Context, key, member string, score int64, ttl time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	w, ok := fs.windows[key]
	if !ok {
		w = make(map[string]int64)
		fs.windows[key] = w
	}
	w[member] = score
	fs.windowTTL[key] = time.Now().Add(ttl)

	return nil
}

// WindowTrim removes members scored strictly below minScore.
func (fs *FastStore) WindowTrim(_ context.Context, key string, minScore int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for member, score := range fs.windows[key] {
		if score < minScore {
			delete(fs.windows[key], member)
		}
	}
	return nil
}

// WindowCount returns the number of members in the window.
func (fs *FastStore) WindowCount(_ context.Context, key string) (int64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if exp, ok := fs.windowTTL[key]; ok && time.Now().After(exp) {
		return 0, nil
	}
	return int64(len(fs.windows[key])), nil
}

// WindowOldest returns the lowest score in the window.
func (fs *FastStore) WindowOldest(_ context.Context, key string) (int64, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	w := fs.windows[key]
	if len(w) == 0 {
		return 0, false, nil
	}
	if exp, ok := fs.windowTTL[key]; ok && time.Now().After(exp) {
		return 0, false, nil
	}

	first := true
	var oldest int64
	for _, score := range w {
		if first || score < oldest {
			oldest = score
			first = false
		}
	}
	return oldest, true, nil
}

// RingPush prepends an entry to the bounded list at key.
func (fs *FastStore) RingPush(_ context.Context, key, entry string, capacity int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ring := append([]string{entry}, fs.rings[key]...)
	if capacity > 0 && int64(len(ring)) > capacity {
		ring = ring[:capacity]
	}
	fs.rings[key] = ring

	return nil
}

// RingRange returns entries [start, stop], newest first. Negative stop
// counts from the end of the list.
func (fs *FastStore) RingRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ring := fs.rings[key]
	n := int64(len(ring))
	if n == 0 {
		return nil, nil
	}

	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, ring[start:stop+1])
	return out, nil
}

// DurableStore is an in-memory implementation of the durable tier.
// Rows are copied on the way in and out so callers cannot mutate
// stored state through retained pointers.
type DurableStore struct {
	mu sync.RWMutex

	sessions   map[string]*storage.Session // keyed by secret
	identities map[string]*storage.IdentityRecord
	audit      []*storage.AuditRecord
	tasks      map[string]*storage.TaskStatus // keyed by document ID

	nextAuditID int64
}

// Compile-time interface check
var _ storage.DurableStore = (*DurableStore)(nil)

// NewDurableStore creates an empty in-memory durable store.
func NewDurableStore() *DurableStore {
	return &DurableStore{
		sessions:    make(map[string]*storage.Session),
		identities:  make(map[string]*storage.IdentityRecord),
		tasks:       make(map[string]*storage.TaskStatus),
		nextAuditID: 1,
	}
}

func copySession(s *storage.Session) *storage.Session {
	cp := *s
	return &cp
}

// CreateSession persists a new session row.
func (ds *DurableStore) CreateSession(_ context.Context, s *storage.Session) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.sessions[s.Secret] = copySession(s)
	return nil
}

// GetSessionBySecret returns the active, unexpired session for secret.
func (ds *DurableStore) GetSessionBySecret(_ context.Context, secret string, now time.Time) (*storage.Session, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	s, ok := ds.sessions[secret]
	if !ok || !s.Active || s.Expired(now) {
		return nil, storage.ErrSessionNotFound
	}
	return copySession(s), nil
}

// TouchSession advances the last-accessed timestamp.
func (ds *DurableStore) TouchSession(_ context.Context, secret string, at time.Time) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if s, ok := ds.sessions[secret]; ok {
		s.LastAccessedAt = at
	}
	return nil
}

// InvalidateSession marks the session inactive.
func (ds *DurableStore) InvalidateSession(_ context.Context, secret string) (bool, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	s, ok := ds.sessions[secret]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	return true, nil
}

// InvalidateSessionsForIdentity marks every active session of the
// identity inactive.
func (ds *DurableStore) InvalidateSessionsForIdentity(_ context.Context, identity string) ([]string, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var secrets []string
	for secret, s := range ds.sessions {
		if s.Identity == identity && s.Active {
			s.Active = false
			secrets = append(secrets, secret)
		}
	}
	return secrets, nil
}

// DeleteExpiredSessions removes expired or inactive rows.
func (ds *DurableStore) DeleteExpiredSessions(_ context.Context, now time.Time) ([]string, int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var secrets []string
	for secret, s := range ds.sessions {
		if !s.Active || s.Expired(now) {
			delete(ds.sessions, secret)
			secrets = append(secrets, secret)
		}
	}
	return secrets, len(secrets), nil
}

// CountActiveSessions returns the number of active, unexpired sessions.
func (ds *DurableStore) CountActiveSessions(_ context.Context, now time.Time) (int, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	count := 0
	for _, s := range ds.sessions {
		if s.Active && !s.Expired(now) {
			count++
		}
	}
	return count, nil
}

// UpsertIdentity records contact from the identity at seenAt.
func (ds *DurableStore) UpsertIdentity(_ context.Context, identity string, seenAt time.Time) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	rec, ok := ds.identities[identity]
	if !ok {
		ds.identities[identity] = &storage.IdentityRecord{
			Identity:  identity,
			FirstSeen: seenAt,
			LastSeen:  seenAt,
		}
		return nil
	}
	rec.LastSeen = seenAt
	return nil
}

// GetIdentity returns the identity record or storage.ErrIdentityNotFound.
func (ds *DurableStore) GetIdentity(_ context.Context, identity string) (*storage.IdentityRecord, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	rec, ok := ds.identities[identity]
	if !ok {
		return nil, storage.ErrIdentityNotFound
	}
	cp := *rec
	return &cp, nil
}

func copyAudit(rec *storage.AuditRecord) *storage.AuditRecord {
	cp := *rec
	if rec.Details != nil {
		cp.Details = make(map[string]any, len(rec.Details))
		for k, v := range rec.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// AppendAudit appends a record and assigns its ID.
func (ds *DurableStore) AppendAudit(_ context.Context, rec *storage.AuditRecord) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	cp := copyAudit(rec)
	cp.ID = ds.nextAuditID
	ds.nextAuditID++
	ds.audit = append(ds.audit, cp)
	rec.ID = cp.ID

	return nil
}

// QueryAudit returns up to limit records for the identity within
// [since, until], newest first.
func (ds *DurableStore) QueryAudit(_ context.Context, identity string, since, until time.Time, limit int) ([]*storage.AuditRecord, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var out []*storage.AuditRecord
	for i := len(ds.audit) - 1; i >= 0; i-- {
		rec := ds.audit[i]
		if rec.Identity != identity {
			continue
		}
		if rec.CreatedAt.Before(since) || rec.CreatedAt.After(until) {
			continue
		}
		out = append(out, copyAudit(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteAuditBefore removes records created before cutoff.
func (ds *DurableStore) DeleteAuditBefore(_ context.Context, cutoff time.Time) (int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	kept := ds.audit[:0]
	removed := 0
	for _, rec := range ds.audit {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	ds.audit = kept

	return removed, nil
}

func copyTask(ts *storage.TaskStatus) *storage.TaskStatus {
	cp := *ts
	return &cp
}

// SetTaskStatus creates or replaces the status row for a document.
func (ds *DurableStore) SetTaskStatus(_ context.Context, ts *storage.TaskStatus) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.tasks[ts.DocumentID] = copyTask(ts)
	return nil
}

// GetTaskStatus returns the status row or storage.ErrTaskNotFound.
func (ds *DurableStore) GetTaskStatus(_ context.Context, documentID string) (*storage.TaskStatus, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	ts, ok := ds.tasks[documentID]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	return copyTask(ts), nil
}

// ListTasksInState returns tasks in the given state last updated
// before the cutoff, oldest first.
func (ds *DurableStore) ListTasksInState(_ context.Context, state storage.TaskState, before time.Time) ([]*storage.TaskStatus, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var out []*storage.TaskStatus
	for _, ts := range ds.tasks {
		if ts.State == state && ts.UpdatedAt.Before(before) {
			out = append(out, copyTask(ts))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteTaskStatus removes the status row for a document.
func (ds *DurableStore) DeleteTaskStatus(_ context.Context, documentID string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	delete(ds.tasks, documentID)
	return nil
}
