package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/ads-livemap/internal/track"
	"github.com/unklstewy/ads-livemap/pkg/config"
)

// Archive is the connection-managing front of the position archive.
// It satisfies the reconciliation loop's archive hook.
type Archive struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	mu        sync.RWMutex
	db        *DB
	positions *PositionRepository
}

// OpenArchive connects, creates the schema and returns a ready archive.
func OpenArchive(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Archive, error) {
	db, err := ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Archive{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		positions: NewPositionRepository(db),
	}, nil
}

// Record stores one accepted observation.
func (a *Archive) Record(ctx context.Context, fix track.Fix) error {
	a.mu.RLock()
	repo := a.positions
	a.mu.RUnlock()

	return repo.Record(ctx, fix)
}

// Maintain re-establishes a lost connection and deletes rows older than
// the retention window. It is meant to run on a slow ticker.
func (a *Archive) Maintain(ctx context.Context) error {
	a.mu.RLock()
	current := a.db
	a.mu.RUnlock()

	db, err := EnsureConnection(ctx, current, a.cfg, a.logger)
	if err != nil {
		a.mu.Lock()
		a.db, a.positions = nil, nil
		a.mu.Unlock()
		return fmt.Errorf("archive unavailable: %w", err)
	}
	if db != current {
		a.mu.Lock()
		a.db, a.positions = db, NewPositionRepository(db)
		a.mu.Unlock()
	}

	deleted, err := db.CleanupOldData(ctx, a.cfg.Retention())
	if err != nil {
		return err
	}
	if deleted > 0 {
		a.logger.Info("archive cleanup", slog.Int64("deleted", deleted), slog.Duration("retention", a.cfg.Retention()))
	}
	return nil
}

// Stats returns archive statistics.
func (a *Archive) Stats(ctx context.Context) (ArchiveStats, error) {
	a.mu.RLock()
	db := a.db
	a.mu.RUnlock()

	if err := HealthCheck(ctx, db); err != nil {
		return ArchiveStats{}, err
	}
	return db.GetStats(ctx)
}

// Close closes the underlying connection.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db, a.positions = nil, nil
	return err
}
