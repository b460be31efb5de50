package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/unklstewy/ads-livemap/internal/track"
)

// ErrNotConnected is returned when the archive has no live connection.
var ErrNotConnected = errors.New("archive not connected")

// PositionRepository inserts accepted observations into track_positions.
type PositionRepository struct {
	db *DB
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Record stores one fix.
func (r *PositionRepository) Record(ctx context.Context, fix track.Fix) error {
	if r == nil || r.db == nil {
		return ErrNotConnected
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO track_positions (hex, label, latitude, longitude, heading_deg, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fix.ID,
		fix.Label,
		fix.Position.Latitude,
		fix.Position.Longitude,
		fix.Heading,
		fix.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position for %s: %w", fix.ID, err)
	}
	return nil
}
