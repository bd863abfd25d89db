package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/loginguard/internal/models"
)

// stepClock is a settable time source shared by a test's services
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTokenService(clock *stepClock) (*TokenService, *MemoryEnrollmentTokenStore, *MemoryTrustStore) {
	trust := NewMemoryTrustStore()
	store := NewMemoryEnrollmentTokenStore(trust)
	return NewTokenService(store, slog.Default()).WithClock(clock.Now), store, trust
}

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken("token-a"))
	assert.NotEqual(t, a, HashToken("token-b"))
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	clock := newStepClock()
	svc, _, _ := newTestTokenService(clock)
	ctx := context.Background()

	plain, token, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	assert.NotEqual(t, plain, token.TokenHash)
	assert.Equal(t, clock.Now().Add(time.Hour), token.ExpiresAt)

	got, err := svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, "DE", got.CountryCode)
	assert.Equal(t, "user-1", got.UserID)
}

func TestTokenService_ValidateOutcomes(t *testing.T) {
	clock := newStepClock()
	svc, _, _ := newTestTokenService(clock)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "")
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	_, err = svc.Validate(ctx, "never-issued")
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	plain, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.Validate(ctx, plain)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestTokenService_ReissueReplacesPendingToken(t *testing.T) {
	clock := newStepClock()
	svc, store, _ := newTestTokenService(clock)
	ctx := context.Background()

	first, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)
	second, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)

	assert.Len(t, store.Pending("user-1", "DE"), 1)

	_, err = svc.Validate(ctx, first)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	_, err = svc.Validate(ctx, second)
	assert.NoError(t, err)

	_, _, err = svc.Issue(ctx, "user-1", "FR", time.Hour)
	require.NoError(t, err)
	assert.Len(t, store.Pending("user-1", "FR"), 1)
	assert.Len(t, store.Pending("user-1", "DE"), 1)
}

func TestTokenService_RedeemOnce(t *testing.T) {
	clock := newStepClock()
	svc, _, trust := newTestTokenService(clock)
	ctx := context.Background()

	plain, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)

	loc, err := svc.Redeem(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, "DE", loc.CountryCode)
	assert.Equal(t, 1, trust.Len())

	_, err = svc.Redeem(ctx, plain)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Equal(t, 1, trust.Len())

	_, err = svc.Validate(ctx, plain)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
}

func TestTokenService_ConcurrentRedeem(t *testing.T) {
	clock := newStepClock()
	svc, _, trust := newTestTokenService(clock)
	ctx := context.Background()

	plain, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, plain); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, trust.Len())
}

func TestTokenService_RedeemExpired(t *testing.T) {
	clock := newStepClock()
	svc, _, trust := newTestTokenService(clock)
	ctx := context.Background()

	plain, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = svc.Redeem(ctx, plain)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Equal(t, 0, trust.Len())
}

func TestTokenService_PurgeExpired(t *testing.T) {
	clock := newStepClock()
	svc, _, _ := newTestTokenService(clock)
	ctx := context.Background()

	_, _, err := svc.Issue(ctx, "user-1", "DE", time.Hour)
	require.NoError(t, err)
	_, _, err = svc.Issue(ctx, "user-2", "FR", 3*time.Hour)
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(2 * time.Hour)
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
