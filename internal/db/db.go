// Package db is the optional write-only position archive. Every accepted
// observation can be stored in PostgreSQL for offline analysis; nothing
// in this package is ever read back into live track state.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/unklstewy/ads-livemap/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// DSN builds the lib/pq connection string for cfg.
func DSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		sslMode,
	)
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates the archive tables if they do not exist.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// CleanupOldData deletes archived positions older than maxAge and
// returns how many rows were removed. A maxAge of zero keeps everything.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	res, err := db.ExecContext(ctx,
		`DELETE FROM track_positions WHERE observed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old positions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted positions: %w", err)
	}
	return n, nil
}

// ArchiveStats summarizes what the archive holds.
type ArchiveStats struct {
	Positions int64     `json:"positions"`
	Aircraft  int64     `json:"aircraft"`
	Oldest    time.Time `json:"oldest,omitempty"`
}

// GetStats returns archive statistics.
func (db *DB) GetStats(ctx context.Context) (ArchiveStats, error) {
	var stats ArchiveStats
	var oldest sql.NullTime

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT hex), MIN(observed_at) FROM track_positions`,
	).Scan(&stats.Positions, &stats.Aircraft, &oldest)
	if err != nil {
		return ArchiveStats{}, fmt.Errorf("failed to query archive stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = oldest.Time
	}

	return stats, nil
}
