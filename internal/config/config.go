// Package config handles application configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable via STORE_BACKEND.
const (
	StoreBolt  = "bolt"
	StoreRedis = "redis"
	StoreFile  = "file"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// Durable key-value store for the cache and pending queue. bolt
	// locks its file to one process; use redis when the api and worker
	// run side by side.
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"bolt"`
	StorePath     string `env:"STORE_PATH"`      // bolt file or file-store dir
	StoreRedisURL string `env:"STORE_REDIS_URL"` // for STORE_BACKEND=redis

	WeatherBaseURL    string `env:"WEATHER_BASE_URL"`
	WeatherArchiveURL string `env:"WEATHER_ARCHIVE_URL"`
	OSRMBaseURL       string `env:"OSRM_BASE_URL"`

	ProbeURL      string        `env:"CONNECTIVITY_PROBE_URL"`
	ProbeInterval time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"30s"`

	// SyncInterval is how often the worker schedules a reconciliation
	// pass on top of connectivity-transition triggers.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`

	CacheMaxItems int           `env:"CACHE_MAX_ITEMS" envDefault:"20"`
	CacheLifetime time.Duration `env:"CACHE_LIFETIME" envDefault:"120h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBolt, StoreFile:
	case StoreRedis:
		if c.StoreRedisURL == "" {
			return fmt.Errorf("STORE_BACKEND=redis requires STORE_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.CacheMaxItems <= 0 {
		return fmt.Errorf("CACHE_MAX_ITEMS must be positive, got %d", c.CacheMaxItems)
	}
	return nil
}
