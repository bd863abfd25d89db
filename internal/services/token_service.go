package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

// EnrollmentTokenRepository defines the persistence operations for enrollment tokens
type EnrollmentTokenRepository interface {
	Upsert(ctx context.Context, userID, countryCode, tokenHash string, expiresAt time.Time) (*models.EnrollmentToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EnrollmentToken, error)
	Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.TrustedLocation, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenService issues, validates and purges single-use enrollment tokens.
// Only the SHA-256 of a token is stored; the plaintext leaves through the
// notification and is never logged.
type TokenService struct {
	repo   EnrollmentTokenRepository
	now    func() time.Time
	logger *slog.Logger
}

func NewTokenService(repo EnrollmentTokenRepository, logger *slog.Logger) *TokenService {
	return &TokenService{repo: repo, now: time.Now, logger: logger}
}

// WithClock replaces the time source, for tests
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// HashToken returns the storage form of a plaintext token
func HashToken(plainToken string) string {
	hash := sha256.Sum256([]byte(plainToken))
	return hex.EncodeToString(hash[:])
}

// Issue creates a token for ownerID carrying payload (the pending country code).
// An unconsumed token for the same owner and payload is replaced.
func (s *TokenService) Issue(ctx context.Context, ownerID, payload string, ttl time.Duration) (string, *models.EnrollmentToken, error) {
	// v4 UUIDs carry 122 random bits
	plainToken := uuid.NewString()
	expiresAt := s.now().Add(ttl)

	token, err := s.repo.Upsert(ctx, ownerID, payload, HashToken(plainToken), expiresAt)
	if err != nil {
		s.logger.Error("failed to store enrollment token",
			slog.String("user_id", ownerID),
			slog.String("country", payload),
			slog.Any("error", err))
		return "", nil, fmt.Errorf("failed to issue token: %w", err)
	}

	metrics.EnrollmentTokensIssued.Inc()
	s.logger.Info("enrollment token issued",
		slog.String("user_id", ownerID),
		slog.String("token_id", token.ID),
		slog.String("country", payload),
		slog.Time("expires_at", expiresAt))

	return plainToken, token, nil
}

// Validate returns the live token for plainToken. A consumed token reports
// models.ErrTokenNotFound; a lapsed one models.ErrTokenExpired.
func (s *TokenService) Validate(ctx context.Context, plainToken string) (*models.EnrollmentToken, error) {
	if plainToken == "" {
		return nil, models.ErrTokenNotFound
	}

	token, err := s.repo.GetByTokenHash(ctx, HashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.IsConsumed() {
		return nil, models.ErrTokenNotFound
	}
	if token.IsExpiredAt(s.now()) {
		return nil, models.ErrTokenExpired
	}
	return token, nil
}

// Redeem consumes plainToken and trusts its location in one atomic step.
// Missing, expired and already consumed tokens all return models.ErrTokenNotFound.
func (s *TokenService) Redeem(ctx context.Context, plainToken string) (*models.TrustedLocation, error) {
	if plainToken == "" {
		return nil, models.ErrTokenNotFound
	}

	loc, err := s.repo.Redeem(ctx, HashToken(plainToken), s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to redeem token: %w", err)
	}
	return loc, nil
}

// PurgeExpired deletes every token whose expiry has passed and returns how
// many were removed. Safe to run concurrently.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.EnrollmentTokensPurged.Add(float64(count))
	return count, nil
}
