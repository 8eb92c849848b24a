// Package config loads server configuration from environment variables.
//
// Variables:
//   - ENVIRONMENT: deployment environment consulted by flag overrides
//     (default "development"). Any non-empty name is accepted.
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: minimum log level (default "info").
//   - ANALYTICS_CAPACITY: evaluation-event retention cap
//     (default "1000", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - SEED_FLAGS: start with the built-in default flag set
//     (default "true").
//   - ADMIN_API_KEY_HASH: bcrypt hash of the admin API key. When set,
//     mutating routes require a matching bearer token; when empty, admin
//     routes are open (local development).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const (
	defaultEnvironment             = "development"
	defaultHTTPAddr                = ":8080"
	defaultAnalyticsCapacity       = 1000
	defaultMaxJSONBodySize   int64 = 1 << 20 // 1MB
)

// Config holds the runtime configuration for the flag engine server.
type Config struct {
	Environment       string
	HTTPAddr          string
	LogLevel          string
	AnalyticsCapacity int
	MaxJSONBodySize   int64
	SeedFlags         bool
	AdminAPIKeyHash   string
}

// Load reads configuration from environment variables, applying defaults
// where appropriate. It returns an error if optional values fail validation.
func Load() (Config, error) {
	analyticsCapacity := defaultAnalyticsCapacity
	if v := strings.TrimSpace(os.Getenv("ANALYTICS_CAPACITY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("ANALYTICS_CAPACITY must be a positive integer")
		}
		analyticsCapacity = n
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	seedFlags := true
	if v := strings.TrimSpace(os.Getenv("SEED_FLAGS")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.New("SEED_FLAGS must be a boolean")
		}
		seedFlags = parsed
	}

	return Config{
		Environment:       envOrDefault("ENVIRONMENT", defaultEnvironment),
		HTTPAddr:          envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		AnalyticsCapacity: analyticsCapacity,
		MaxJSONBodySize:   maxJSONBodySize,
		SeedFlags:         seedFlags,
		AdminAPIKeyHash:   strings.TrimSpace(os.Getenv("ADMIN_API_KEY_HASH")),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
