package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/formhive/formhive/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the externally visible origin, used to build OAuth2
	// redirect URLs
	BaseURL string

	// Environment gates the HTTPS requirement on SSO redirects
	// (development, staging, production)
	Environment string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// AuthConfig holds login behavior settings
type AuthConfig struct {
	// ForceSSOLogin disables password login for emails whose domain has no
	// matching SSO connection
	ForceSSOLogin bool

	// SessionTTL bounds issued session lifetime
	SessionTTL time.Duration

	// SessionCleanupSchedule is the cron expression for the expired-session
	// sweep
	SessionCleanupSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("FORMHIVE_HOST", "0.0.0.0"),
			Port:            getEnv("FORMHIVE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FORMHIVE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FORMHIVE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FORMHIVE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FORMHIVE_SHUTDOWN_TIMEOUT", 30*time.Second),
			BaseURL:         getEnv("FORMHIVE_BASE_URL", "http://localhost:8080"),
			Environment:     getEnv("FORMHIVE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("FORMHIVE_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("FORMHIVE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("FORMHIVE_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("FORMHIVE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			ForceSSOLogin:          getEnvBool("FORMHIVE_FORCE_SSO_LOGIN", false),
			SessionTTL:             getEnvDuration("FORMHIVE_SESSION_TTL", 24*time.Hour),
			SessionCleanupSchedule: getEnv("FORMHIVE_SESSION_CLEANUP_SCHEDULE", "@hourly"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("FORMHIVE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("FORMHIVE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.Server.Environment)
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	return nil
}

// IsDevelopment reports whether the server runs in the development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// RedirectURL builds the externally visible OAuth2 callback URL for a
// connection slug.
func (c *Config) RedirectURL(slug string) string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/auth/" + slug + "/callback"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
