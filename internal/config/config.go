// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all sync-layer configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Daemon
	DaemonURL     string
	DaemonTimeout time.Duration

	// Result cache persistence ("" disables)
	CacheFile string

	// Polling
	DownloadsInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffFactor     float64
	MaxPollAttempts   int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		DaemonURL:         envOr("PSYCHE_DAEMON_URL", "http://localhost:6080"),
		DaemonTimeout:     envDuration("PSYCHE_DAEMON_TIMEOUT", 15*time.Second),
		CacheFile:         envOr("PSYCHE_CACHE_FILE", "/data/psyche/cache.json"),
		DownloadsInterval: envDuration("PSYCHE_DOWNLOADS_INTERVAL", 2*time.Second),
		BackoffInitial:    envDuration("PSYCHE_BACKOFF_INITIAL", 200*time.Millisecond),
		BackoffMax:        envDuration("PSYCHE_BACKOFF_MAX", 2*time.Second),
		BackoffFactor:     envFloat("PSYCHE_BACKOFF_FACTOR", 1.5),
		MaxPollAttempts:   envInt("PSYCHE_MAX_POLL_ATTEMPTS", 40),
	}

	if cfg.DaemonURL == "" {
		return nil, fmt.Errorf("PSYCHE_DAEMON_URL is required")
	}
	if cfg.BackoffFactor <= 1 {
		return nil, fmt.Errorf("PSYCHE_BACKOFF_FACTOR must be greater than 1")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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
