package services_test

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestThrottle(threshold, capacity int, clock *fakeClock) *services.AttemptThrottle {
	return services.NewAttemptThrottle(services.AttemptThrottleConfig{
		Threshold: threshold,
		Capacity:  capacity,
		Retention: 24 * time.Hour,
	}, slog.Default()).WithClock(clock.Now)
}

func TestAttemptThrottle_BlocksAtThreshold(t *testing.T) {
	throttle := newTestThrottle(10, 10, newFakeClock())

	for i := 0; i < 9; i++ {
		throttle.RecordFailure("1.2.3.4")
	}
	assert.False(t, throttle.IsBlocked("1.2.3.4"), "9 failures should not block")

	throttle.RecordFailure("1.2.3.4")
	assert.True(t, throttle.IsBlocked("1.2.3.4"), "10th failure should block")
	assert.Equal(t, 10, throttle.Count("1.2.3.4"))
}

func TestAttemptThrottle_UnknownKeyNotBlocked(t *testing.T) {
	throttle := newTestThrottle(1, 10, newFakeClock())

	assert.False(t, throttle.IsBlocked("never-seen"))
	assert.Equal(t, 0, throttle.Count("never-seen"))
	assert.Equal(t, 0, throttle.Len(), "lookups must not create entries")
}

func TestAttemptThrottle_RetentionExpiry(t *testing.T) {
	clock := newFakeClock()
	throttle := newTestThrottle(3, 10, clock)

	for i := 0; i < 3; i++ {
		throttle.RecordFailure("10.0.0.1")
	}
	assert.True(t, throttle.IsBlocked("10.0.0.1"))

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 3, throttle.Count("10.0.0.1"), "entry survives exactly the retention window")

	clock.Advance(time.Second)
	assert.False(t, throttle.IsBlocked("10.0.0.1"), "idle entry should expire")
	assert.Equal(t, 0, throttle.Len())
}

func TestAttemptThrottle_FailureExtendsRetention(t *testing.T) {
	clock := newFakeClock()
	throttle := newTestThrottle(3, 10, clock)

	throttle.RecordFailure("10.0.0.1")
	clock.Advance(20 * time.Hour)
	throttle.RecordFailure("10.0.0.1")
	clock.Advance(20 * time.Hour)
	throttle.RecordFailure("10.0.0.1")

	assert.True(t, throttle.IsBlocked("10.0.0.1"))
}

func TestAttemptThrottle_CapacityEvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newFakeClock()
	throttle := newTestThrottle(10, 3, clock)

	throttle.RecordFailure("a")
	clock.Advance(time.Second)
	throttle.RecordFailure("b")
	clock.Advance(time.Second)
	throttle.RecordFailure("c")
	clock.Advance(time.Second)

	// touching "a" makes "b" the least recently accessed
	throttle.IsBlocked("a")
	throttle.RecordFailure("d")

	assert.Equal(t, 3, throttle.Len())
	assert.Equal(t, 0, throttle.Count("b"), "b should have been evicted")
	assert.Equal(t, 1, throttle.Count("a"))
	assert.Equal(t, 1, throttle.Count("c"))
	assert.Equal(t, 1, throttle.Count("d"))
}

func TestAttemptThrottle_SlotReuseAfterEviction(t *testing.T) {
	throttle := newTestThrottle(10, 2, newFakeClock())

	for i := 0; i < 50; i++ {
		throttle.RecordFailure(fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, 2, throttle.Len())
	assert.Equal(t, 1, throttle.Count("key-48"))
	assert.Equal(t, 1, throttle.Count("key-49"))
}

func TestAttemptThrottle_Reset(t *testing.T) {
	throttle := newTestThrottle(2, 10, newFakeClock())

	throttle.RecordFailure("1.2.3.4")
	throttle.RecordFailure("1.2.3.4")
	assert.True(t, throttle.IsBlocked("1.2.3.4"))

	assert.True(t, throttle.Reset("1.2.3.4"))
	assert.False(t, throttle.IsBlocked("1.2.3.4"))
	assert.False(t, throttle.Reset("1.2.3.4"), "second reset finds nothing")

	assert.Equal(t, 1, throttle.RecordFailure("1.2.3.4"), "counting restarts at 1")
}

func TestAttemptThrottle_ConcurrentFailures(t *testing.T) {
	throttle := newTestThrottle(10, 10, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttle.RecordFailure("1.2.3.4")
		}()
	}
	wg.Wait()

	assert.True(t, throttle.IsBlocked("1.2.3.4"))
	assert.Equal(t, 10, throttle.Count("1.2.3.4"), "no lost updates")
}

func TestAttemptThrottle_ConcurrentDistinctKeysRespectCapacity(t *testing.T) {
	throttle := newTestThrottle(10, 5, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("10.0.%d.%d", i/10, i%10)
			throttle.RecordFailure(key)
			throttle.IsBlocked(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, throttle.Len())
}

func TestAttemptThrottle_DefaultsForInvalidConfig(t *testing.T) {
	throttle := services.NewAttemptThrottle(services.AttemptThrottleConfig{}, slog.Default())

	for i := 0; i < 9; i++ {
		throttle.RecordFailure("k")
	}
	assert.False(t, throttle.IsBlocked("k"))
	throttle.RecordFailure("k")
	assert.True(t, throttle.IsBlocked("k"))
}
