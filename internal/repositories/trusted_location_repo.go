package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TrustedLocationRepository struct {
	pool *pgxpool.Pool
}

func NewTrustedLocationRepository(db *database.DB) *TrustedLocationRepository {
	return &TrustedLocationRepository{pool: db.Pool}
}

func (r *TrustedLocationRepository) IsTrusted(ctx context.Context, userID, countryCode string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM trusted_locations WHERE user_id = $1 AND country_code = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, countryCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trusted location: %w", database.MapPostgresError(err))
	}
	return exists, nil
}

// Trust records (userID, countryCode) as trusted. Returns false when the pair was already present.
func (r *TrustedLocationRepository) Trust(ctx context.Context, userID, countryCode string) (bool, error) {
	query := `
		INSERT INTO trusted_locations (user_id, country_code)
		VALUES ($1, $2)
		ON CONFLICT (user_id, country_code) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, userID, countryCode)
	if err != nil {
		return false, fmt.Errorf("failed to trust location: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected() == 1, nil
}
