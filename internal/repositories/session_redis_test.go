package repositories_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/loginguard/internal/repositories"
	"github.com/BradenHooton/loginguard/internal/services"
)

var _ services.SessionRegistry = (*repositories.RedisSessionRegistry)(nil)

func newRedisRegistry(t *testing.T, maxPerUser int) (*repositories.RedisSessionRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	registry, err := repositories.NewRedisSessionRegistry(context.Background(), repositories.RedisSessionConfig{
		Addr:       mr.Addr(),
		Prefix:     "test:",
		MaxPerUser: maxPerUser,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	return registry, mr
}

func TestRedisSessionRegistry_SingleSessionPerUser(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRedisRegistry(t, 1)

	invalidated, err := registry.Register(ctx, "user1", "s1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, invalidated)

	invalidated, err = registry.Register(ctx, "user1", "s2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, invalidated)

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].SessionID)

	active, err := registry.IsActive(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, active, "displaced session must be inactive")

	active, err = registry.IsActive(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRedisSessionRegistry_SameInstantKeepsNewest(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRedisRegistry(t, 2)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.WithClock(func() time.Time { return fixed })

	for _, sid := range []string{"z-first", "a-second"} {
		_, err := registry.Register(ctx, "user1", sid, fixed.Add(time.Hour))
		require.NoError(t, err)
	}

	invalidated, err := registry.Register(ctx, "user1", "m-third", fixed.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"z-first"}, invalidated, "oldest registration goes first regardless of id order")
}

func TestRedisSessionRegistry_MaxTwo(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRedisRegistry(t, 2)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	for _, sid := range []string{"s1", "s2"} {
		invalidated, err := registry.Register(ctx, "user1", sid, clock.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, invalidated)
	}

	invalidated, err := registry.Register(ctx, "user1", "s3", clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, invalidated)

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].SessionID)
	assert.Equal(t, "s3", sessions[1].SessionID)
	assert.True(t, sessions[0].CreatedAt.Before(sessions[1].CreatedAt))
}

func TestRedisSessionRegistry_Unregister(t *testing.T) {
	ctx := context.Background()
	registry, mr := newRedisRegistry(t, 1)

	_, err := registry.Register(ctx, "user1", "s1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, registry.Unregister(ctx, "s1"))

	active, err := registry.IsActive(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, active)

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.False(t, mr.Exists("test:session:owner:s1"))

	assert.NoError(t, registry.Unregister(ctx, "unknown"), "unregistering an unknown session is a no-op")
}

func TestRedisSessionRegistry_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRedisRegistry(t, 1)

	_, err := registry.Register(ctx, "user1", "a", time.Now().Add(time.Hour))
	require.NoError(t, err)
	invalidated, err := registry.Register(ctx, "user2", "b", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, invalidated)

	for _, sid := range []string{"a", "b"} {
		active, err := registry.IsActive(ctx, sid)
		require.NoError(t, err)
		assert.True(t, active, sid)
	}
}

func TestRedisSessionRegistry_ConcurrentLogins(t *testing.T) {
	ctx := context.Background()
	registry, _ := newRedisRegistry(t, 1)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		invalidated []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := registry.Register(ctx, "user1", fmt.Sprintf("s%d", i), time.Now().Add(time.Hour))
			assert.NoError(t, err)
			mu.Lock()
			invalidated = append(invalidated, out...)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "at most one session survives")
	assert.Len(t, invalidated, 19)
}

func TestNewRedisSessionRegistry_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = repositories.NewRedisSessionRegistry(context.Background(), repositories.RedisSessionConfig{Addr: addr})
	assert.Error(t, err)
}

func TestRedisSessionRegistry_KeysExpireWithSession(t *testing.T) {
	ctx := context.Background()
	registry, mr := newRedisRegistry(t, 1)

	_, err := registry.Register(ctx, "user1", "s1", time.Now().Add(30*time.Minute))
	require.NoError(t, err)

	assert.Greater(t, mr.TTL("test:session:owner:s1"), time.Duration(0))
	assert.Greater(t, mr.TTL("test:session:user:user1"), time.Duration(0))

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), sessions[0].ExpiresAt, time.Minute)

	mr.FastForward(31 * time.Minute)

	active, err := registry.IsActive(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, mr.Exists("test:session:user:user1"))

	sessions, err = registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisSessionRegistry_ExpiredMemberFreesSlot(t *testing.T) {
	ctx := context.Background()
	registry, mr := newRedisRegistry(t, 2)

	_, err := registry.Register(ctx, "user1", "short", time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	_, err = registry.Register(ctx, "user1", "long", time.Now().Add(2*time.Hour))
	require.NoError(t, err)

	mr.FastForward(15 * time.Minute)

	sessions, err := registry.ActiveSessions(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "long", sessions[0].SessionID)

	invalidated, err := registry.Register(ctx, "user1", "next", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, invalidated, "an expired session must not hold a slot")

	// the set lives as long as its newest session
	assert.Greater(t, mr.TTL("test:session:user:user1"), time.Hour)
}

func TestRedisSessionRegistry_IgnoresAlreadyExpiredSession(t *testing.T) {
	ctx := context.Background()
	registry, mr := newRedisRegistry(t, 1)

	invalidated, err := registry.Register(ctx, "user1", "stale", time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, invalidated)
	assert.False(t, mr.Exists("test:session:owner:stale"))
}
