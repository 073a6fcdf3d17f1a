// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1..65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidPoolSize is returned when WORKER_POOL_SIZE is not positive.
	ErrInvalidPoolSize = errors.New("config: WORKER_POOL_SIZE must be positive")
	// ErrInvalidDropRate is returned when MAX_FRAME_DROP_RATE is outside [0, 1].
	ErrInvalidDropRate = errors.New("config: MAX_FRAME_DROP_RATE must be between 0 and 1")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Job store settings. An empty STORE_URL selects the in-memory queue;
	// a redis:// URL selects the Redis-backed queue.
	StoreURL string `env:"STORE_URL" json:"store_url,omitempty"`

	// Processing settings
	MaxConcurrentJobs   int     `env:"MAX_CONCURRENT_JOBS, default=3" json:"max_concurrent_jobs"`
	WorkerPoolSize      int     `env:"WORKER_POOL_SIZE, default=4" json:"worker_pool_size"`
	RenderingTimeoutSec int     `env:"RENDERING_TIMEOUT_SEC, default=1800" json:"rendering_timeout_sec"`
	LeaseTimeoutSec     int     `env:"LEASE_TIMEOUT_SEC, default=2100" json:"lease_timeout_sec"`
	MaxFrameDropRate    float64 `env:"MAX_FRAME_DROP_RATE, default=0.10" json:"max_frame_drop_rate"`

	// Encoding settings
	UseGPUEncoding bool   `env:"USE_GPU_ENCODING, default=true" json:"use_gpu_encoding"`
	FFmpegPath     string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Resource governor settings
	MemThresholdMB  int `env:"MEM_THRESHOLD_MB, default=2048" json:"mem_threshold_mb"`
	CPUThresholdPct int `env:"CPU_THRESHOLD_PCT, default=80" json:"cpu_threshold_pct"`

	// Callback settings
	CallbackRetryCount int `env:"CALLBACK_RETRY_COUNT, default=3" json:"callback_retry_count"`
	CallbackTimeoutSec int `env:"CALLBACK_TIMEOUT_SEC, default=30" json:"callback_timeout_sec"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/render" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis-backed job store is configured.
func (c *Config) RedisEnabled() bool {
	return strings.HasPrefix(c.StoreURL, "redis://") || strings.HasPrefix(c.StoreURL, "rediss://")
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration values are within bounds.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.WorkerPoolSize < 1 {
		return ErrInvalidPoolSize
	}
	if c.MaxFrameDropRate < 0 || c.MaxFrameDropRate > 1 {
		return ErrInvalidDropRate
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	store := c.StoreURL
	if store == "" {
		store = "memory"
	}
	return fmt.Sprintf(
		"Config{Port: %d, Store: %s, TempDir: %s, MaxConcurrentJobs: %d, WorkerPoolSize: %d, RenderingTimeoutSec: %d, UseGPUEncoding: %t, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		maskURL(store),
		c.TempDir,
		c.MaxConcurrentJobs,
		c.WorkerPoolSize,
		c.RenderingTimeoutSec,
		c.UseGPUEncoding,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// maskURL hides credentials embedded in a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
