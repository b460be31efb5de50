package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
// Configuration is loaded from a JSON or YAML file and environment variables.
type Config struct {
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Map      MapConfig      `json:"map" yaml:"map"`
	Tracks   TracksConfig   `json:"tracks" yaml:"tracks"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// FeedConfig contains the poll source settings.
type FeedConfig struct {
	// URL is the full feed endpoint (readsb /v2 JSON, e.g. adsb.lol)
	URL string `json:"url" yaml:"url" validate:"required,url"`

	// PollIntervalSeconds is how often a new batch is requested
	PollIntervalSeconds float64 `json:"poll_interval_seconds" yaml:"poll_interval_seconds" validate:"gt=0"`

	// MinRequestSpacingSeconds is the minimum time between two requests
	// 0 = no client-side limit
	MinRequestSpacingSeconds float64 `json:"min_request_spacing_seconds" yaml:"min_request_spacing_seconds" validate:"gte=0"`

	// TimeoutSeconds bounds a single request
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gt=0"`
}

// MapConfig contains the map presentation settings shared by all viewers.
type MapConfig struct {
	// TileURL is the slippy map tile template used by the web viewer
	TileURL string `json:"tile_url" yaml:"tile_url" validate:"required"`

	// Attribution is shown in the corner of the web map
	Attribution string `json:"attribution" yaml:"attribution"`

	// CenterLat is the initial map center latitude (-90 to +90)
	CenterLat float64 `json:"center_lat" yaml:"center_lat" validate:"gte=-90,lte=90"`

	// CenterLon is the initial map center longitude (-180 to +180)
	CenterLon float64 `json:"center_lon" yaml:"center_lon" validate:"gte=-180,lte=180"`

	// Zoom is the initial web map zoom level
	Zoom int `json:"zoom" yaml:"zoom" validate:"gte=0,lte=19"`

	// RadiusNM is the terminal viewport radius in nautical miles
	RadiusNM float64 `json:"radius_nm" yaml:"radius_nm" validate:"gt=0"`
}

// TracksConfig contains track lifecycle settings.
type TracksConfig struct {
	// StaleAfterCycles removes a track after it has been missing from this
	// many consecutive batches. 0 = tracks are never removed.
	StaleAfterCycles int `json:"stale_after_cycles" yaml:"stale_after_cycles" validate:"gte=0"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" yaml:"port" validate:"required,numeric"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`
}

// DatabaseConfig contains the position archive connection settings.
type DatabaseConfig struct {
	// Enabled turns the write-only position archive on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host" validate:"required_if=Enabled true"`

	// Port is the database server port
	Port int `json:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// Database is the database name
	Database string `json:"database" yaml:"database" validate:"required_if=Enabled true"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`

	// RetentionHours is how long archived positions are kept. 0 keeps them forever.
	RetentionHours int `json:"retention_hours" yaml:"retention_hours" validate:"gte=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// Dir is where the rotating log file is written. Empty = no file.
	Dir string `json:"dir" yaml:"dir"`
}

// PollInterval returns the poll interval as a duration.
func (f FeedConfig) PollInterval() time.Duration {
	return seconds(f.PollIntervalSeconds)
}

// MinRequestSpacing returns the minimum request spacing as a duration.
func (f FeedConfig) MinRequestSpacing() time.Duration {
	return seconds(f.MinRequestSpacingSeconds)
}

// Timeout returns the request timeout as a duration.
func (f FeedConfig) Timeout() time.Duration {
	return seconds(f.TimeoutSeconds)
}

// Retention returns the archive retention window.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionHours) * time.Hour
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := cfg.decode(path, data); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decode picks the format from the file extension.
func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	default:
		return json.Unmarshal(data, c)
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON with indentation
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The map starts over central Anatolia, matching the default LADD feed.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:                      "https://api.adsb.lol/v2/ladd",
			PollIntervalSeconds:      5,
			MinRequestSpacingSeconds: 1,
			TimeoutSeconds:           10,
		},
		Map: MapConfig{
			TileURL:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Attribution: "&copy; OpenStreetMap contributors",
			CenterLat:   39.9334,
			CenterLon:   32.8597,
			Zoom:        6,
			RadiusNM:    300,
		},
		Tracks: TracksConfig{
			StaleAfterCycles: 0, // never prune
		},
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "livemap",
			Username:       "livemap",
			SSLMode:        "disable",
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			RetentionHours: 24,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if url := os.Getenv("ADS_LIVEMAP_FEED_URL"); url != "" {
		c.Feed.URL = url
	}
	if port := os.Getenv("ADS_LIVEMAP_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("ADS_LIVEMAP_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if level := os.Getenv("ADS_LIVEMAP_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
}
