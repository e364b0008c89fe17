package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiterEntry tracks a token bucket and its last access time.
type localLimiterEntry struct {
	identity   string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalRateLimiter is a per-identity token bucket kept in process
// memory, used as a cheap first line ahead of the shared sliding
// window in the fast store. LRU eviction bounds memory under
// distributed abuse: identities that keep sending stay resident,
// one-shot attack sources are evicted first.
type LocalRateLimiter struct {
	entries map[string]*list.Element
	lruList *list.List // most recently used at front
	mu      sync.RWMutex

	perSecond  int
	burst      int
	maxEntries int

	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	totalEvictions int64
	totalCleanups  int64
}

// DefaultLocalMaxEntries bounds the number of identities tracked by a
// LocalRateLimiter.
const DefaultLocalMaxEntries = 10_000

// NewLocalRateLimiter creates a limiter allowing perSecond sustained
// requests with the given burst per identity. Call Stop when done to
// end the background cleanup goroutine.
func NewLocalRateLimiter(perSecond, burst int, logger *slog.Logger) *LocalRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	lrl := &LocalRateLimiter{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		perSecond:       perSecond,
		burst:           burst,
		maxEntries:      DefaultLocalMaxEntries,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go lrl.cleanupLoop()

	return lrl
}

// Allow reports whether a request from the identity fits its local
// token bucket, creating the bucket on first contact and evicting the
// least recently used identity at capacity.
func (lrl *LocalRateLimiter) Allow(identity string) bool {
	now := time.Now()

	lrl.mu.Lock()
	defer lrl.mu.Unlock()

	if elem, ok := lrl.entries[identity]; ok {
		lrl.lruList.MoveToFront(elem)
		entry := elem.Value.(*localLimiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if lrl.maxEntries > 0 && len(lrl.entries) >= lrl.maxEntries {
		lrl.evictOldest()
	}

	entry := &localLimiterEntry{
		identity:   identity,
		limiter:    rate.NewLimiter(rate.Limit(lrl.perSecond), lrl.burst),
		lastAccess: now,
	}
	lrl.entries[identity] = lrl.lruList.PushFront(entry)

	return entry.limiter.Allow()
}

// evictOldest removes the least recently used entry. Caller holds the
// lock.
func (lrl *LocalRateLimiter) evictOldest() {
	elem := lrl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*localLimiterEntry)
	delete(lrl.entries, entry.identity)
	lrl.lruList.Remove(elem)
	lrl.totalEvictions++
}

func (lrl *LocalRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(lrl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lrl.Cleanup(30 * time.Minute)
		case <-lrl.stopCleanup:
			return
		}
	}
}

// Cleanup drops entries idle for longer than maxIdle.
func (lrl *LocalRateLimiter) Cleanup(maxIdle time.Duration) {
	lrl.mu.Lock()
	defer lrl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := lrl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*localLimiterEntry)
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(lrl.entries, entry.identity)
			lrl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		lrl.totalCleanups++
		lrl.logger.Debug("local rate limiter cleanup",
			"removed", removed,
			"remaining", len(lrl.entries))
	}
}

// Stop ends the background cleanup goroutine. Safe to call more than
// once.
func (lrl *LocalRateLimiter) Stop() {
	lrl.stopOnce.Do(func() {
		close(lrl.stopCleanup)
	})
}

// LocalLimiterStats is a snapshot of limiter occupancy for monitoring.
type LocalLimiterStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
}

// Stats returns current limiter statistics.
func (lrl *LocalRateLimiter) Stats() LocalLimiterStats {
	lrl.mu.RLock()
	defer lrl.mu.RUnlock()

	return LocalLimiterStats{
		CurrentEntries: len(lrl.entries),
		MaxEntries:     lrl.maxEntries,
		TotalEvictions: lrl.totalEvictions,
		TotalCleanups:  lrl.totalCleanups,
	}
}
