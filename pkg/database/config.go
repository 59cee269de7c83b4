package database

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds database configuration.
type Config struct {
	// URL is a postgres connection string (DATABASE_URL).
	URL string

	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from DATABASE_URL with
// production-ready pool defaults. Returns (Config, false) when DATABASE_URL
// is absent — the caller degrades to store-less mode.
func LoadConfigFromEnv() (Config, bool) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return Config{}, false
	}

	cfg := Config{
		URL:             dbURL,
		MaxConns:        25,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
	return cfg, true
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.URL, "postgres://") && !strings.HasPrefix(c.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// connection string")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("MaxConns must be at least 1")
	}
	return nil
}

// DatabaseName extracts the database name from the connection URL,
// falling back to "postgres" when it cannot be determined.
func (c Config) DatabaseName() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "postgres"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "postgres"
	}
	return name
}
