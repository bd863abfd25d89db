package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/metrics"
)

const noSlot = -1

// AttemptThrottleConfig holds the throttle limits
type AttemptThrottleConfig struct {
	Threshold int           // failures at which a source key is blocked
	Capacity  int           // maximum number of tracked source keys
	Retention time.Duration // idle time after which an entry is forgotten
}

// DefaultAttemptThrottleConfig returns the default limits: 10 failures, 10 keys, 24h
func DefaultAttemptThrottleConfig() AttemptThrottleConfig {
	return AttemptThrottleConfig{
		Threshold: 10,
		Capacity:  10,
		Retention: 24 * time.Hour,
	}
}

type attemptEntry struct {
	key          string
	count        int
	createdAt    time.Time
	lastAccessAt time.Time
	prev, next   int
}

// AttemptThrottle counts failed logins per source key in a fixed-capacity
// arena. Entries are linked by slot index in access order (head is most
// recent), so the capacity victim and all expired entries sit at the tail.
//
// One mutex guards the whole arena; keys are not locked individually. The LRU
// order and the capacity victim are shared across keys, so per-key locks would
// still need this lock for every insert. Every operation is O(1) amortized and
// never waits on I/O, which bounds how long one key can delay another.
//
// An attacker able to touch Capacity distinct keys can evict legitimate
// trackers; that is an accepted cost of bounding memory.
type AttemptThrottle struct {
	mu      sync.Mutex
	config  AttemptThrottleConfig
	entries []attemptEntry
	index   map[string]int
	free    []int
	head    int
	tail    int
	now     func() time.Time
	logger  *slog.Logger
}

// NewAttemptThrottle creates an AttemptThrottle. Non-positive config values fall back to defaults.
func NewAttemptThrottle(config AttemptThrottleConfig, logger *slog.Logger) *AttemptThrottle {
	defaults := DefaultAttemptThrottleConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}

	return &AttemptThrottle{
		config:  config,
		entries: make([]attemptEntry, 0, config.Capacity),
		index:   make(map[string]int, config.Capacity),
		head:    noSlot,
		tail:    noSlot,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source, for tests
func (t *AttemptThrottle) WithClock(now func() time.Time) *AttemptThrottle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

// RecordFailure increments the counter for sourceKey, creating it at 1, and
// returns the new count. The entry's retention restarts.
func (t *AttemptThrottle) RecordFailure(sourceKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expire(now)
	metrics.ThrottleFailures.Inc()

	if slot, ok := t.index[sourceKey]; ok {
		e := &t.entries[slot]
		e.count++
		e.lastAccessAt = now
		t.moveToFront(slot)
		return e.count
	}

	if len(t.index) >= t.config.Capacity {
		t.evict(t.tail, "capacity")
	}

	slot := t.alloc()
	t.entries[slot] = attemptEntry{
		key:          sourceKey,
		count:        1,
		createdAt:    now,
		lastAccessAt: now,
		prev:         noSlot,
		next:         noSlot,
	}
	t.index[sourceKey] = slot
	t.pushFront(slot)
	metrics.ThrottleTrackedKeys.Set(float64(len(t.index)))
	return 1
}

// IsBlocked reports whether sourceKey has reached the failure threshold.
// Unknown keys are never blocked. A lookup counts as an access.
func (t *AttemptThrottle) IsBlocked(sourceKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expire(now)

	slot, ok := t.index[sourceKey]
	if !ok {
		return false
	}
	e := &t.entries[slot]
	e.lastAccessAt = now
	t.moveToFront(slot)
	return e.count >= t.config.Threshold
}

// Reset forgets sourceKey. Returns false if it was not tracked.
func (t *AttemptThrottle) Reset(sourceKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.index[sourceKey]
	if !ok {
		return false
	}
	t.remove(slot)
	metrics.ThrottleTrackedKeys.Set(float64(len(t.index)))
	t.logger.Info("throttle entry reset", slog.String("source_key", sourceKey))
	return true
}

// Count returns the live failure count for sourceKey without touching its access time
func (t *AttemptThrottle) Count(sourceKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire(t.now())
	if slot, ok := t.index[sourceKey]; ok {
		return t.entries[slot].count
	}
	return 0
}

// Len returns the number of tracked source keys
func (t *AttemptThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire(t.now())
	return len(t.index)
}

// expire drops entries idle longer than the retention window. They are all
// at the tail because the list is ordered by last access.
func (t *AttemptThrottle) expire(now time.Time) {
	for t.tail != noSlot && now.Sub(t.entries[t.tail].lastAccessAt) > t.config.Retention {
		t.evict(t.tail, "expired")
	}
}

func (t *AttemptThrottle) evict(slot int, cause string) {
	key := t.entries[slot].key
	t.remove(slot)
	metrics.ThrottleEvictions.WithLabelValues(cause).Inc()
	metrics.ThrottleTrackedKeys.Set(float64(len(t.index)))
	t.logger.Debug("throttle entry evicted",
		slog.String("source_key", key),
		slog.String("cause", cause))
}

func (t *AttemptThrottle) alloc() int {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		return slot
	}
	t.entries = append(t.entries, attemptEntry{})
	return len(t.entries) - 1
}

func (t *AttemptThrottle) remove(slot int) {
	t.unlink(slot)
	delete(t.index, t.entries[slot].key)
	t.entries[slot] = attemptEntry{prev: noSlot, next: noSlot}
	t.free = append(t.free, slot)
}

func (t *AttemptThrottle) pushFront(slot int) {
	e := &t.entries[slot]
	e.prev = noSlot
	e.next = t.head
	if t.head != noSlot {
		t.entries[t.head].prev = slot
	}
	t.head = slot
	if t.tail == noSlot {
		t.tail = slot
	}
}

func (t *AttemptThrottle) unlink(slot int) {
	e := &t.entries[slot]
	if e.prev != noSlot {
		t.entries[e.prev].next = e.next
	} else {
		t.head = e.next
	}
	if e.next != noSlot {
		t.entries[e.next].prev = e.prev
	} else {
		t.tail = e.prev
	}
	e.prev, e.next = noSlot, noSlot
}

func (t *AttemptThrottle) moveToFront(slot int) {
	if t.head == slot {
		return
	}
	t.unlink(slot)
	t.pushFront(slot)
}
