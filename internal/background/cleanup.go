package background

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes expired entries and reports how many it removed
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired entries: enrollment tokens by
// default, or in-process sessions. It runs as a supervised service;
// overlapping runs on several instances are harmless.
type CleanupManager struct {
	name     string
	purger   Purger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(purger Purger, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		name:     "enrollment-token-cleanup",
		purger:   purger,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
	}
}

// WithName sets the service name used in logs and supervisor events
func (cm *CleanupManager) WithName(name string) *CleanupManager {
	cm.name = name
	return cm
}

// Serve runs the purge immediately and then on every tick until ctx is done
func (cm *CleanupManager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-ctx.Done():
			cm.logger.Info("cleanup manager stopped", slog.String("job", cm.name))
			return ctx.Err()
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	rowsDeleted, err := cm.purger.PurgeExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("cleanup failed", slog.String("job", cm.name), slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired entries purged", slog.String("job", cm.name), slog.Int64("rows_deleted", rowsDeleted))
	}
}

func (cm *CleanupManager) String() string {
	return cm.name
}
