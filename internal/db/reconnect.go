package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unklstewy/ads-livemap/pkg/config"
)

// maxReconnectDelay caps the backoff between reconnection attempts.
const maxReconnectDelay = 60 * time.Second

// ReconnectWithRetry attempts to connect with exponential backoff.
//
// Parameters:
//   - cfg: Database configuration
//   - maxRetries: Maximum number of reconnection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or the last error once retries are exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, logger *slog.Logger) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		logger.Info("database connection attempt", slog.Int("attempt", attempt))

		db, err := Connect(ctx, cfg)
		if err == nil {
			logger.Info("database connected", slog.Int("attempt", attempt))
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			return nil, fmt.Errorf("failed to reconnect after %d attempts: %w", attempt, err)
		}

		logger.Warn("database connection failed",
			slog.Any("error", err),
			slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// EnsureConnection checks that db is alive and reconnects if needed.
// It returns the connection to keep using, either db or a new one.
func EnsureConnection(ctx context.Context, db *DB, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if db == nil {
		logger.Warn("database connection is nil, reconnecting")
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		logger.Warn("database connection lost, reconnecting", slog.Any("error", err))
		db.Close()
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	}

	return db, nil
}

// HealthCheck reports whether db answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) error {
	if db == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("health check returned %d", result)
	}
	return nil
}
