package cookies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache writes a declaration file plus cookie files and returns the
// cache over them.
func newTestCache(t *testing.T, sessions string, files map[string]string, mode os.FileMode) *Cache {
	t.Helper()
	configDir := t.TempDir()
	dataDir := t.TempDir()

	configPath := filepath.Join(configDir, "cookie_sessions.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(sessions), 0o600))

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(content), mode))
	}
	return NewCache(configPath, dataDir)
}

const adminSessions = `
version: 1
sessions:
  admin:
    description: Admin session
    cookie_file: admin.json
    cache_ttl: 300
`

func TestCache_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("loads valid profile", func(t *testing.T) {
		cache := newTestCache(t, adminSessions,
			map[string]string{"admin.json": `{"sid":"aaa","csrf":"bbb"}`}, 0o600)

		profile, err := cache.Get(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "admin", profile.Name)
		assert.Equal(t, map[string]string{"sid": "aaa", "csrf": "bbb"}, profile.Cookies)
		assert.Equal(t, "Admin session", profile.Description)
		assert.False(t, profile.LastUpdated.IsZero())
	})

	t.Run("mode 0400 is accepted", func(t *testing.T) {
		cache := newTestCache(t, adminSessions,
			map[string]string{"admin.json": `{"sid":"aaa"}`}, 0o400)
		_, err := cache.Get(ctx, "admin")
		require.NoError(t, err)
	})

	t.Run("mode 0644 fails with insecure_permissions", func(t *testing.T) {
		cache := newTestCache(t, adminSessions,
			map[string]string{"admin.json": `{"sid":"aaa"}`}, 0o644)
		_, err := cache.Get(ctx, "admin")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsecurePermissions)
	})

	t.Run("unknown profile", func(t *testing.T) {
		cache := newTestCache(t, adminSessions, nil, 0o600)
		_, err := cache.Get(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUnknownProfile)
	})

	t.Run("malformed json fails with parse error", func(t *testing.T) {
		cache := newTestCache(t, adminSessions,
			map[string]string{"admin.json": `["not","a","map"]`}, 0o600)
		_, err := cache.Get(ctx, "admin")
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("relative escape fails with path_escape", func(t *testing.T) {
		cache := newTestCache(t, `
sessions:
  sneaky:
    cookie_file: ../../../etc/passwd
    cache_ttl: 60
`, nil, 0o600)
		_, err := cache.Get(ctx, "sneaky")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("absolute path fails with path_escape", func(t *testing.T) {
		cache := newTestCache(t, `
sessions:
  sneaky:
    cookie_file: /etc/passwd
    cache_ttl: 60
`, nil, 0o600)
		_, err := cache.Get(ctx, "sneaky")
		assert.ErrorIs(t, err, ErrPathEscape)
	})

	t.Run("symlink out of the data dir fails with path_escape", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "secret.json")
		require.NoError(t, os.WriteFile(outside, []byte(`{"sid":"x"}`), 0o600))

		cache := newTestCache(t, adminSessions, nil, 0o600)
		require.NoError(t, os.Symlink(outside, filepath.Join(cache.dataDir, "admin.json")))

		_, err := cache.Get(ctx, "admin")
		assert.ErrorIs(t, err, ErrPathEscape)
	})
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()

	t.Run("serves cached copy inside ttl", func(t *testing.T) {
		cache := newTestCache(t, adminSessions,
			map[string]string{"admin.json": `{"sid":"v1"}`}, 0o600)

		first, err := cache.Get(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "v1", first.Cookies["sid"])

		// Rewrite the file; the cached copy should still serve.
		path := filepath.Join(cache.dataDir, "admin.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sid":"v2"}`), 0o600))

		second, err := cache.Get(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "v1", second.Cookies["sid"])
	})

	t.Run("zero ttl reloads every time", func(t *testing.T) {
		cache := newTestCache(t, `
sessions:
  admin:
    cookie_file: admin.json
    cache_ttl: 0
`, map[string]string{"admin.json": `{"sid":"v1"}`}, 0o600)

		_, err := cache.Get(ctx, "admin")
		require.NoError(t, err)

		path := filepath.Join(cache.dataDir, "admin.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sid":"v2"}`), 0o600))

		second, err := cache.Get(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "v2", second.Cookies["sid"])
	})
}

func TestCache_ConcurrentFetches(t *testing.T) {
	cache := newTestCache(t, adminSessions,
		map[string]string{"admin.json": `{"sid":"aaa"}`}, 0o600)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), "admin")
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent fetches deadlocked")
	}
	for i, err := range errs {
		require.NoError(t, err, fmt.Sprintf("goroutine %d", i))
	}
}

func TestCache_List(t *testing.T) {
	cache := newTestCache(t, adminSessions, nil, 0o600)
	sessions, err := cache.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Contains(t, sessions, "admin")
}
