package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultThrottleMaxEntries bounds the number of identifiers tracked at once
	DefaultThrottleMaxEntries = 10000

	throttleCleanupInterval = 5 * time.Minute
	throttleIdleTimeout     = 30 * time.Minute
)

type throttleEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time

	// suppressed is set once the first event was dropped so that the drop
	// itself is reported only once per burst
	suppressed bool
}

// Throttle is a per-key token bucket with LRU eviction. The auditor uses it
// to cap how many events a single client can produce.
type Throttle struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewThrottle allows perSecond events per key with the given burst.
func NewThrottle(perSecond float64, burst int, logger *slog.Logger) *Throttle {
	return NewThrottleWithMaxEntries(perSecond, burst, DefaultThrottleMaxEntries, logger)
}

// NewThrottleWithMaxEntries is NewThrottle with a custom key limit. Zero
// means unlimited.
func NewThrottleWithMaxEntries(perSecond float64, burst, maxEntries int, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = DefaultThrottleMaxEntries
	}
	t := &Throttle{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Allow reports whether another event for key may pass. The second return
// value is true exactly once when a key transitions into the dropping state.
func (t *Throttle) Allow(key string) (allowed, firstDrop bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var entry *throttleEntry
	if elem, ok := t.entries[key]; ok {
		t.lru.MoveToFront(elem)
		entry = elem.Value.(*throttleEntry)
	} else {
		if t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
			t.evictOldest()
		}
		entry = &throttleEntry{key: key, limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = t.lru.PushFront(entry)
	}
	entry.lastAccess = now

	if entry.limiter.AllowN(now, 1) {
		entry.suppressed = false
		return true, false
	}
	if entry.suppressed {
		return false, false
	}
	entry.suppressed = true
	return false, true
}

// Len returns the number of tracked keys
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// must be called with mu held
func (t *Throttle) evictOldest() {
	elem := t.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*throttleEntry)
	delete(t.entries, entry.key)
	t.lru.Remove(elem)
	t.logger.Debug("Throttle evicted idle key", "current_entries", len(t.entries))
}

// Cleanup drops keys idle for longer than maxIdle
func (t *Throttle) Cleanup(maxIdle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := t.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*throttleEntry)
		if now.Sub(entry.lastAccess) <= maxIdle {
			// older entries are at the back, so the rest are fresher
			break
		}
		delete(t.entries, entry.key)
		t.lru.Remove(elem)
		removed++
		elem = prev
	}
	if removed > 0 {
		t.logger.Debug("Throttle cleanup completed", "removed", removed, "remaining", len(t.entries))
	}
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(throttleCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup(throttleIdleTimeout)
		case <-t.stop:
			return
		}
	}
}

// Stop ends the background cleanup. It is safe to call more than once.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}
