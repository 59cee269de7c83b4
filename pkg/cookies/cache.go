// Package cookies loads named cookie profiles from disk under a TTL cache
// with strict permission checks. Profiles supply authentication state to
// outbound requests and are surfaced read-only to the agent.
package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
)

var (
	// ErrUnknownProfile is returned for profiles absent from the config file.
	ErrUnknownProfile = errors.New("unknown cookie profile")

	// ErrPathEscape is returned when a profile's cookie_file resolves
	// outside the data directory.
	ErrPathEscape = errors.New("cookie file escapes data directory")

	// ErrInsecurePermissions is returned when the cookie file is not owned
	// by the process user with mode 0600 or 0400.
	ErrInsecurePermissions = errors.New("insecure cookie file permissions")

	// ErrParse is returned when the cookie file is not a string→string
	// JSON object.
	ErrParse = errors.New("malformed cookie file")
)

// Profile is a loaded cookie profile.
type Profile struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Cookies     map[string]string `json:"cookies"`
	LastUpdated time.Time         `json:"last_updated"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Cache loads cookie profiles on demand and caches them per profile TTL.
// The declaration file is re-read on every operation (profile counts are
// small); only the cookie files themselves are cached. Concurrent fetches
// for one profile coalesce to a single disk read.
type Cache struct {
	configPath string
	dataDir    string

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	// Per-profile mutex so a cold profile is read from disk once even when
	// many requests arrive together.
	loadMu sync.Map // profile name → *sync.Mutex
}

type cacheEntry struct {
	profile  *Profile
	loadedAt time.Time
	ttl      time.Duration
}

// NewCache creates a cookie profile cache. configPath is the
// cookie_sessions.yaml declaration file; dataDir is the directory cookie
// files must live under.
func NewCache(configPath, dataDir string) *Cache {
	return &Cache{
		configPath: configPath,
		dataDir:    filepath.Clean(dataDir),
		entries:    make(map[string]*cacheEntry),
	}
}

// List returns the declared profile set from the configuration file.
func (c *Cache) List() (map[string]config.CookieSessionConfig, error) {
	cfg, err := config.LoadCookieSessions(c.configPath)
	if err != nil {
		return nil, err
	}
	return cfg.Sessions, nil
}

// Get returns the named profile, loading from disk when the cached copy is
// older than the profile's TTL.
func (c *Cache) Get(ctx context.Context, name string) (*Profile, error) {
	cfg, err := config.LoadCookieSessions(c.configPath)
	if err != nil {
		return nil, err
	}
	session, ok := cfg.Sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}

	ttl := time.Duration(session.CacheTTL) * time.Second
	if fresh := c.cached(name, ttl); fresh != nil {
		return fresh, nil
	}

	// Coalesce concurrent loads of the same profile.
	muAny, _ := c.loadMu.LoadOrStore(name, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// A concurrent loader may have refreshed while we waited.
	if fresh := c.cached(name, ttl); fresh != nil {
		return fresh, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, err := c.load(name, session)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[name] = &cacheEntry{profile: profile, loadedAt: time.Now(), ttl: ttl}
	c.mu.Unlock()

	slog.Debug("Cookie profile loaded", "profile", name, "cookies", len(profile.Cookies))
	return profile, nil
}

func (c *Cache) cached(name string, ttl time.Duration) *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	if !ok || time.Since(entry.loadedAt) >= ttl {
		return nil
	}
	return entry.profile
}

// load resolves, permission-checks, reads and parses the profile's cookie file.
func (c *Cache) load(name string, session config.CookieSessionConfig) (*Profile, error) {
	path, err := c.resolve(session.CookieFile)
	if err != nil {
		return nil, err
	}

	if err := checkPermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file for %s: %w", name, err)
	}

	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat cookie file for %s: %w", name, err)
	}

	return &Profile{
		Name:        name,
		Description: session.Description,
		Cookies:     cookies,
		LastUpdated: info.ModTime().UTC(),
		Metadata:    session.Metadata,
	}, nil
}

// resolve canonicalises the cookie file path against the data directory and
// rejects anything that escapes it.
func (c *Cache) resolve(cookieFile string) (string, error) {
	if filepath.IsAbs(cookieFile) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, cookieFile)
	}
	path := filepath.Clean(filepath.Join(c.dataDir, cookieFile))
	if path != c.dataDir && !strings.HasPrefix(path, c.dataDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, cookieFile)
	}
	// Follow symlinks before re-checking: a link inside the data dir may
	// still point outside it.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("cookie file does not exist: %s", cookieFile)
		}
		return "", fmt.Errorf("failed to resolve cookie file: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(c.dataDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if resolved != resolvedDir && !strings.HasPrefix(resolved, resolvedDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, cookieFile)
	}
	return resolved, nil
}

// checkPermissions requires the cookie file to be mode 0600 or 0400 and
// owned by the process user.
func checkPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat cookie file: %w", err)
	}

	mode := info.Mode().Perm()
	if mode != 0o600 && mode != 0o400 {
		return fmt.Errorf("%w: %s has mode %04o, want 0600 or 0400", ErrInsecurePermissions, path, mode)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Getuid() {
			return fmt.Errorf("%w: %s is not owned by the current user", ErrInsecurePermissions, path)
		}
	}

	return nil
}
