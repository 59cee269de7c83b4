package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CookieSessionsConfig is the top-level structure of cookie_sessions.yaml.
type CookieSessionsConfig struct {
	Version  int                            `yaml:"version"`
	Sessions map[string]CookieSessionConfig `yaml:"sessions"`
}

// CookieSessionConfig declares a single named cookie profile.
type CookieSessionConfig struct {
	Description string `yaml:"description,omitempty"`
	// CookieFile is resolved relative to the data directory. Absolute paths
	// and traversal outside the data directory are rejected at load time.
	CookieFile string `yaml:"cookie_file"`
	// CacheTTL is in seconds.
	CacheTTL int               `yaml:"cache_ttl"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// LoadCookieSessions reads and validates the cookie profile declaration file.
// A missing file is not an error — it yields an empty profile set.
func LoadCookieSessions(path string) (*CookieSessionsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CookieSessionsConfig{Sessions: map[string]CookieSessionConfig{}}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg CookieSessionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = map[string]CookieSessionConfig{}
	}

	for name, s := range cfg.Sessions {
		if s.CookieFile == "" {
			return nil, fmt.Errorf("session %q: cookie_file is required", name)
		}
		if s.CacheTTL < 0 {
			return nil, fmt.Errorf("session %q: cache_ttl cannot be negative", name)
		}
	}

	return &cfg, nil
}
