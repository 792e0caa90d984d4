package app

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer        string        // Required: issuer URL tokens must carry
	Audience      string        // Optional: audience that must appear in tokens
	JWKSURL       string        // Optional: key endpoint (default: issuer + /.well-known/jwks.json)
	JWKSCacheTTL  time.Duration // Optional: key set freshness window (default: 1h)
	JWKSFetchTTL  time.Duration // Optional: per-fetch timeout for the key endpoint (default: 10s)
	Algorithms    []string      // Optional: allowed signing algorithms (default: RS256)
	DatabaseURL   string        // Required: PostgreSQL connection string
	MaxConns      int           // Optional: pool size (default: 10)
	AcquireWait   time.Duration // Optional: pool acquisition timeout (default: 5s)
	Env           string        // Environment (dev, staging, prod) (default: dev)
	LogLevel      string        // Log level (debug, info, warn, error) (default: info)
	LogFormat     string        // Log format (json, text) (default: json)
	Port          int           // HTTP server port (default: 8080)
	ShutdownGrace time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        os.Getenv("GATEWAY_ISSUER"),
		Audience:      os.Getenv("GATEWAY_AUDIENCE"),
		JWKSURL:       os.Getenv("GATEWAY_JWKS_URL"),
		JWKSCacheTTL:  getEnvDurationOrDefault("GATEWAY_JWKS_CACHE_TTL", time.Hour),
		JWKSFetchTTL:  getEnvDurationOrDefault("GATEWAY_JWKS_FETCH_TIMEOUT", 10*time.Second),
		Algorithms:    getEnvListOrDefault("GATEWAY_JWKS_ALGORITHMS", []string{"RS256"}),
		DatabaseURL:   os.Getenv("GATEWAY_DATABASE_URL"),
		MaxConns:      getEnvIntOrDefault("GATEWAY_MAX_CONNECTIONS", 10),
		AcquireWait:   getEnvDurationOrDefault("GATEWAY_ACQUIRE_TIMEOUT", 5*time.Second),
		Env:           getEnvOrDefault("ENV", "dev"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "json"),
		Port:          getEnvIntOrDefault("PORT", 8080),
		ShutdownGrace: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.JWKSURL == "" && cfg.Issuer != "" {
		cfg.JWKSURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}

	return cfg
}

// Validate runs before any core component is constructed.
func (c Config) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("GATEWAY_ISSUER is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_DATABASE_URL is required"))
	}
	if c.MaxConns < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_CONNECTIONS must be at least 1"))
	}
	if c.AcquireWait <= 0 {
		errs = append(errs, errors.New("GATEWAY_ACQUIRE_TIMEOUT must be positive"))
	}
	if c.JWKSCacheTTL <= 0 {
		errs = append(errs, errors.New("GATEWAY_JWKS_CACHE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// e.g. "1h", "30m", "90s"
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are taken as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
