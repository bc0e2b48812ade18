// Package config loads runtime configuration from the environment so main
// stays small and every knob is documented in one place.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig holds connection pool settings.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string
	Format string
}

// Config aggregates all runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// Load reads configuration from the environment. DATABASE_URL is required;
// everything else has a development default.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr: envOr("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			DSN:             dsn,
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 16),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 4),
			ConnMaxLifetime: envInt("DB_CONN_MAX_LIFETIME", 300),
		},
		Logging: LoggingConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "text"),
		},
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
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
