package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnrollmentTokenRepository handles enrollment token data access
type EnrollmentTokenRepository struct {
	pool *pgxpool.Pool
}

func NewEnrollmentTokenRepository(db *database.DB) *EnrollmentTokenRepository {
	return &EnrollmentTokenRepository{pool: db.Pool}
}

func scanEnrollmentTokenRow(row rowScanner) (*models.EnrollmentToken, error) {
	var token models.EnrollmentToken
	var consumedAt *time.Time

	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.CountryCode,
		&token.ExpiresAt, &consumedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.ConsumedAt = consumedAt
	return &token, nil
}

// Upsert stores a pending token for (userID, countryCode). An unconsumed token
// for the same pair is replaced in place, so at most one is ever pending.
func (r *EnrollmentTokenRepository) Upsert(ctx context.Context, userID, countryCode, tokenHash string, expiresAt time.Time) (*models.EnrollmentToken, error) {
	query := `
		INSERT INTO enrollment_tokens (user_id, country_code, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, country_code) WHERE consumed_at IS NULL
		DO UPDATE SET token_hash = EXCLUDED.token_hash,
		              expires_at = EXCLUDED.expires_at,
		              created_at = NOW()
		RETURNING id, user_id, token_hash, country_code, expires_at, consumed_at, created_at
	`

	token, err := scanEnrollmentTokenRow(r.pool.QueryRow(ctx, query, userID, countryCode, tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert enrollment token: %w", err)
	}
	return token, nil
}

// GetByTokenHash retrieves a token by its hash, consumed or not
func (r *EnrollmentTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EnrollmentToken, error) {
	query := `
		SELECT id, user_id, token_hash, country_code, expires_at, consumed_at, created_at
		FROM enrollment_tokens
		WHERE token_hash = $1
	`
	return scanEnrollmentTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// Redeem consumes a live token and trusts its country in one statement. A
// token that is missing, expired at now, or already consumed yields ErrNotFound.
func (r *EnrollmentTokenRepository) Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.TrustedLocation, error) {
	query := `
		WITH consumed AS (
			UPDATE enrollment_tokens
			SET consumed_at = $2
			WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > $2
			RETURNING user_id, country_code
		), trusted AS (
			INSERT INTO trusted_locations (user_id, country_code, created_at)
			SELECT user_id, country_code, $2 FROM consumed
			ON CONFLICT (user_id, country_code) DO NOTHING
		)
		SELECT user_id, country_code FROM consumed
	`

	var loc models.TrustedLocation
	err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(&loc.UserID, &loc.CountryCode)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	loc.CreatedAt = now
	return &loc, nil
}

// DeleteExpired removes every token whose expiry is before the cutoff
func (r *EnrollmentTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM enrollment_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired enrollment tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
