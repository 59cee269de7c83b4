// Package config provides configuration loading for the hiro gateway:
// environment variables, XDG directory resolution, and the YAML files that
// declare cookie profiles and HTTP logging behaviour.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AppName is used for XDG directory resolution.
const AppName = "hiro"

// Config is the fully resolved application configuration.
type Config struct {
	// DatabaseURL enables the store. Empty disables all store-backed tools.
	DatabaseURL string `yaml:"-"`

	// ConfigDir, DataDir and CacheDir are the resolved XDG directories
	// (${XDG_CONFIG_HOME:-~/.config}/hiro etc.).
	ConfigDir string `yaml:"-"`
	DataDir   string `yaml:"-"`
	CacheDir  string `yaml:"-"`

	// PromptsDir overrides the user prompt-guide directory.
	PromptsDir string `yaml:"-"`

	HTTP      HTTPConfig      `yaml:"http"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// HTTPConfig controls the HTTP executor and logging pipeline.
type HTTPConfig struct {
	// ProxyURL is applied to every outbound request when set
	// (e.g. an intercepting proxy such as Burp or mitmproxy).
	ProxyURL string `yaml:"proxy_url"`

	// TimeoutMs is the default per-request timeout.
	TimeoutMs int `yaml:"timeout_ms"`

	// MaxRedirects is the default redirect ceiling when following redirects.
	MaxRedirects int `yaml:"max_redirects"`

	// MaxRequestBodyBytes and MaxResponseBodyBytes bound stored bodies.
	// Larger payloads are truncated with the original size preserved.
	MaxRequestBodyBytes  int64 `yaml:"max_request_body_bytes"`
	MaxResponseBodyBytes int64 `yaml:"max_response_body_bytes"`

	// SensitiveHeaders are redacted (case-insensitive name match) in stored
	// request and response headers.
	SensitiveHeaders []string `yaml:"sensitive_headers"`
}

// EmbeddingConfig controls the text-embedding driver.
type EmbeddingConfig struct {
	// Endpoint is the Ollama-compatible embedding API base URL.
	// Empty disables embeddings; vector search tools degrade gracefully.
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// Dimensions must match the vector columns in the store schema.
	Dimensions int `yaml:"dimensions"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			TimeoutMs:            30_000,
			MaxRedirects:         10,
			MaxRequestBodyBytes:  1 << 20,
			MaxResponseBodyBytes: 1 << 20,
			SensitiveHeaders:     []string{"Authorization", "Proxy-Authorization"},
		},
		Embedding: EmbeddingConfig{
			Model:      "all-minilm",
			Dimensions: 384,
		},
	}
}

// Load resolves configuration from the environment and the optional
// config file at <ConfigDir>/hiro.yaml. File values are merged over the
// built-in defaults; environment variables win over both.
func Load() (*Config, error) {
	cfg := Defaults()

	cfg.ConfigDir = filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), AppName)
	cfg.DataDir = filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), AppName)
	cfg.CacheDir = filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), AppName)

	path := filepath.Join(cfg.ConfigDir, AppName+".yaml")
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("HIRO_PROXY_URL"); v != "" {
		cfg.HTTP.ProxyURL = v
	}
	if v := os.Getenv("HIRO_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("HIRO_PROMPTS_DIR"); v != "" {
		cfg.PromptsDir = v
	} else {
		cfg.PromptsDir = filepath.Join(cfg.ConfigDir, "prompts")
	}

	return &cfg, nil
}

// CookieSessionsPath returns the location of the cookie profile declaration file.
func (c *Config) CookieSessionsPath() string {
	return filepath.Join(c.ConfigDir, "cookie_sessions.yaml")
}

// xdgDir resolves an XDG base directory, falling back to $HOME/<fallback>.
func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Degenerate environment (no HOME); relative paths keep things usable.
		return fallback
	}
	return filepath.Join(home, fallback)
}
