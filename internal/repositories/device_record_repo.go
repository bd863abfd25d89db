package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeviceRecordRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceRecordRepository(db *database.DB) *DeviceRecordRepository {
	return &DeviceRecordRepository{pool: db.Pool}
}

// GetByDescriptor returns models.ErrNotFound when the user has never used the device
func (r *DeviceRecordRepository) GetByDescriptor(ctx context.Context, userID, descriptor string) (*models.DeviceRecord, error) {
	query := `
		SELECT user_id, descriptor, last_seen_at, last_known_country
		FROM device_records
		WHERE user_id = $1 AND descriptor = $2
	`

	var rec models.DeviceRecord
	err := r.pool.QueryRow(ctx, query, userID, descriptor).Scan(
		&rec.UserID, &rec.Descriptor, &rec.LastSeenAt, &rec.LastKnownCountry,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func (r *DeviceRecordRepository) Upsert(ctx context.Context, rec *models.DeviceRecord) error {
	query := `
		INSERT INTO device_records (user_id, descriptor, last_seen_at, last_known_country)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, descriptor)
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at,
		              last_known_country = EXCLUDED.last_known_country
	`

	_, err := r.pool.Exec(ctx, query, rec.UserID, rec.Descriptor, rec.LastSeenAt, rec.LastKnownCountry)
	if err != nil {
		return fmt.Errorf("failed to upsert device record: %w", database.MapPostgresError(err))
	}
	return nil
}
