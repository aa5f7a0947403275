// Package config provides centralized configuration for labnb.
//
// Values come from defaults, then the workspace config.yaml, then environment
// variables (optionally loaded from .env files). Later sources win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration values.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr" validate:"required"`

	// WorkerInterval is the polling interval of the execution queue worker.
	WorkerInterval time.Duration `yaml:"worker_interval" validate:"gt=0"`

	// WorkerConcurrency is the number of entries executed in parallel by the
	// worker.
	WorkerConcurrency int `yaml:"worker_concurrency" validate:"gte=1,lte=64"`

	// HTTPTimeout is the timeout for outgoing HTTP requests made by
	// integrations.
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gt=0"`

	// ThumbnailSize is the maximum thumbnail width and height in pixels.
	ThumbnailSize int `yaml:"thumbnail_size" validate:"gte=16,lte=4096"`

	// ThumbnailQuality is the JPEG quality of thumbnails.
	ThumbnailQuality int `yaml:"thumbnail_quality" validate:"gte=1,lte=100"`

	// MaxThumbnailPixels skips thumbnails of images declaring more pixels.
	MaxThumbnailPixels int `yaml:"max_thumbnail_pixels" validate:"gt=0"`

	// GCMinAge protects blobs younger than this from blob gc.
	GCMinAge time.Duration `yaml:"gc_min_age" validate:"gte=0"`

	// AsyncThumbnails moves thumbnail generation off the store path.
	AsyncThumbnails bool `yaml:"async_thumbnails"`

	// CORSOrigin is the allowed CORS origin.
	CORSOrigin string `yaml:"cors_origin"`

	// MaxBodyBytes caps HTTP request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// LogFormat selects the slog handler: "text" or "json".
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:               ":8080",
		WorkerInterval:     2 * time.Second,
		WorkerConcurrency:  2,
		HTTPTimeout:        60 * time.Second,
		ThumbnailSize:      256,
		ThumbnailQuality:   85,
		MaxThumbnailPixels: 89_478_485,
		GCMinAge:           10 * time.Minute,
		CORSOrigin:         "*",
		MaxBodyBytes:       32 << 20,
		LogFormat:          "text",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists; an empty path skips it) and LABNB_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = envOr("LABNB_ADDR", c.Addr)
	c.WorkerInterval = envDuration("LABNB_WORKER_INTERVAL", c.WorkerInterval)
	c.WorkerConcurrency = envInt("LABNB_WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.HTTPTimeout = envDuration("LABNB_HTTP_TIMEOUT", c.HTTPTimeout)
	c.ThumbnailSize = envInt("LABNB_THUMBNAIL_SIZE", c.ThumbnailSize)
	c.ThumbnailQuality = envInt("LABNB_THUMBNAIL_QUALITY", c.ThumbnailQuality)
	c.MaxThumbnailPixels = envInt("LABNB_MAX_THUMBNAIL_PIXELS", c.MaxThumbnailPixels)
	c.GCMinAge = envDuration("LABNB_GC_MIN_AGE", c.GCMinAge)
	c.AsyncThumbnails = envBool("LABNB_ASYNC_THUMBNAILS", c.AsyncThumbnails)
	c.CORSOrigin = envOr("LABNB_CORS_ORIGIN", c.CORSOrigin)
	c.MaxBodyBytes = int64(envInt("LABNB_MAX_BODY", int(c.MaxBodyBytes)))
	c.LogFormat = envOr("LABNB_LOG_FORMAT", c.LogFormat)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteFile writes c as YAML to path.
func (c Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WorkspaceDir returns flagValue, else LABNB_WORKSPACE, else ".".
func WorkspaceDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envOr("LABNB_WORKSPACE", ".")
}

// LoadEnvFiles loads .env.local and then .env from the working directory.
// Variables already set in the environment are never overridden and missing
// files are ignored.
func LoadEnvFiles() {
	loadEnvFile(".env.local")
	loadEnvFile(".env")
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
