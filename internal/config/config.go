// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds all application configuration.
type Config struct {
	// ServerURL is the base URL of the remote analysis service.
	ServerURL string `env:"FISHDASH_SERVER_URL,default=http://localhost:8000"`

	// LogLevel controls zap's minimum level (debug, info, warn, error).
	LogLevel string `env:"FISHDASH_LOG_LEVEL,default=info"`

	// MetricsAddr is the listen address for the local /metrics endpoint.
	// Empty disables the listener.
	MetricsAddr string `env:"FISHDASH_METRICS_ADDR,default="`

	// HistoryPath is the SQLite file holding activity history.
	HistoryPath string `env:"FISHDASH_HISTORY_PATH,default=fishdash.db"`

	PollIntervalSeconds int `env:"FISHDASH_POLL_INTERVAL_SECONDS,default=1"`
	MaxPollIterations   int `env:"FISHDASH_MAX_POLL_ITERATIONS,default=600"`
	MaxRetries          int `env:"FISHDASH_MAX_RETRIES,default=3"`

	UploadTimeoutMinutes int `env:"FISHDASH_UPLOAD_TIMEOUT_MINUTES,default=5"`
	PollTimeoutSeconds   int `env:"FISHDASH_POLL_TIMEOUT_SECONDS,default=10"`

	ThumbnailMaxDim      int `env:"FISHDASH_THUMBNAIL_MAX_DIM,default=128"`
	ThumbnailQuality     int `env:"FISHDASH_THUMBNAIL_QUALITY,default=65"`
	ThumbnailConcurrency int `env:"FISHDASH_THUMBNAIL_CONCURRENCY,default=4"`

	// GridSquareSize is the calibration grid square size in inches.
	GridSquareSize        float64 `env:"FISHDASH_GRID_SQUARE_SIZE,default=1.0"`
	IncludeVisualizations bool    `env:"FISHDASH_INCLUDE_VISUALIZATIONS,default=true"`

	// MemoryLimitBytes caps tracked resource memory (0 = use GOMEMLIMIT).
	MemoryLimitBytes int64   `env:"FISHDASH_MEMORY_LIMIT_BYTES,default=0"`
	MemoryThreshold  float64 `env:"FISHDASH_MEMORY_THRESHOLD,default=0.85"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.MaxPollIterations <= 0 {
		return fmt.Errorf("max poll iterations must be positive, got %d", c.MaxPollIterations)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ThumbnailMaxDim <= 0 {
		return fmt.Errorf("thumbnail max dimension must be positive, got %d", c.ThumbnailMaxDim)
	}
	if c.ThumbnailQuality <= 0 || c.ThumbnailQuality > 100 {
		return fmt.Errorf("thumbnail quality must be in (0, 100], got %d", c.ThumbnailQuality)
	}
	if c.ThumbnailConcurrency <= 0 {
		return fmt.Errorf("thumbnail concurrency must be positive, got %d", c.ThumbnailConcurrency)
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		return fmt.Errorf("memory threshold must be in (0, 1], got %f", c.MemoryThreshold)
	}
	if c.GridSquareSize <= 0 {
		return fmt.Errorf("grid square size must be positive, got %f", c.GridSquareSize)
	}
	return nil
}

// PollInterval returns the polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// UploadTimeout returns the upload timeout as a duration.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMinutes) * time.Minute
}

// PollTimeout returns the per-poll request timeout as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}
