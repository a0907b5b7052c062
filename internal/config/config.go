// Package config provides centralized configuration management for the
// import service. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 2m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 90s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"90s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required with the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StoreConfig selects the registry backend.
type StoreConfig struct {
	// Driver is postgres or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// MigrateOnStart applies pending schema migrations at startup (default: true)
	MigrateOnStart bool `env:"STORE_MIGRATE_ON_START" default:"true"`

	// SeedBreeds inserts the system breed catalog at startup (default: true)
	SeedBreeds bool `env:"STORE_SEED_BREEDS" default:"true"`
}

// ImportConfig holds preview/execute pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxRows caps the data rows of one file (default: 5000)
	MaxRows int `env:"IMPORT_MAX_ROWS" default:"5000"`

	// PreviewTimeout bounds decode, validate and resolve (default: 30s)
	PreviewTimeout time.Duration `env:"IMPORT_PREVIEW_TIMEOUT" default:"30s"`

	// Workers is the number of rows resolved in parallel (default: 8)
	Workers int `env:"IMPORT_WORKERS" default:"8"`

	// MaxConcurrent is the maximum number of imports processed at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an import slot (default: 10s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"10s"`

	// SuggestionLimit is the maximum suggestions per finding (default: 5)
	SuggestionLimit int `env:"IMPORT_SUGGESTION_LIMIT" default:"5"`

	// MinSuggestionScore drops suggestions scoring below it (default: 0.5)
	MinSuggestionScore float64 `env:"IMPORT_MIN_SUGGESTION_SCORE" default:"0.5"`

	// BatchWait is how long resolver loaders collect keys (default: 2ms)
	BatchWait time.Duration `env:"IMPORT_BATCH_WAIT" default:"2ms"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for preview/execute endpoints (default: 20)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TenantHeader carries the tenant scope on /api routes (default: X-Tenant-ID)
	TenantHeader string `env:"TENANT_HEADER" default:"X-Tenant-ID"`

	// CORSOrigins is a comma-separated list of allowed browser origins
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// CacheConfig holds in-process cache settings.
type CacheConfig struct {
	// BreedCacheSize is the number of species whose system breeds are cached (default: 64)
	BreedCacheSize int `env:"CACHE_BREED_SIZE" default:"64"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
