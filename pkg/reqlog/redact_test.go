package reqlog

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Headers(t *testing.T) {
	r := NewRedactor([]string{"Authorization", "Proxy-Authorization"})

	t.Run("replaces sensitive values case-insensitively", func(t *testing.T) {
		h := http.Header{}
		h.Set("authorization", "Bearer secret")
		h.Set("Content-Type", "application/json")
		h.Add("X-Trace", "a")
		h.Add("X-Trace", "b")

		out := r.Headers(h)
		assert.Equal(t, []string{RedactedValue}, out["Authorization"])
		assert.Equal(t, []string{"application/json"}, out["Content-Type"])
		assert.Equal(t, []string{"a", "b"}, out["X-Trace"])
	})

	t.Run("cookies pass through unless listed", func(t *testing.T) {
		h := http.Header{}
		h.Set("Cookie", "sid=abc")
		out := r.Headers(h)
		assert.Equal(t, []string{"sid=abc"}, out["Cookie"])

		strict := NewRedactor([]string{"Authorization", "Cookie"})
		out = strict.Headers(h)
		assert.Equal(t, []string{RedactedValue}, out["Cookie"])
	})

	t.Run("input headers are never modified", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer secret")
		_ = r.Headers(h)
		assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		assert.Nil(t, r.Headers(nil))
		assert.Nil(t, r.Headers(http.Header{}))
	})
}

func TestParseTarget(t *testing.T) {
	t.Run("full url", func(t *testing.T) {
		host, port, protocol, path, query, err := parseTarget("https://API.Example.com:8443/v1/ping?x=1&x=2")
		require.NoError(t, err)
		assert.Equal(t, "api.example.com", host)
		require.NotNil(t, port)
		assert.Equal(t, 8443, *port)
		assert.Equal(t, "https", string(protocol))
		assert.Equal(t, "/v1/ping", path)
		assert.Equal(t, []string{"1", "2"}, query["x"])
	})

	t.Run("no explicit port", func(t *testing.T) {
		host, port, protocol, _, _, err := parseTarget("http://a.test/")
		require.NoError(t, err)
		assert.Equal(t, "a.test", host)
		assert.Nil(t, port)
		assert.Equal(t, "http", string(protocol))
	})

	t.Run("rejects non-http schemes", func(t *testing.T) {
		_, _, _, _, _, err := parseTarget("ftp://a.test/")
		assert.Error(t, err)
	})

	t.Run("rejects hostless urls", func(t *testing.T) {
		_, _, _, _, _, err := parseTarget("https:///just/a/path")
		assert.Error(t, err)
	})
}

func TestTruncate(t *testing.T) {
	body := []byte("0123456789")

	t.Run("under the limit is intact", func(t *testing.T) {
		out, size := truncate(body, 20)
		assert.Equal(t, body, out)
		assert.Equal(t, int64(10), size)
	})

	t.Run("exactly at the limit is intact", func(t *testing.T) {
		out, size := truncate(body, 10)
		assert.Equal(t, body, out)
		assert.Equal(t, int64(10), size)
	})

	t.Run("one byte over is truncated with original size", func(t *testing.T) {
		out, size := truncate(body, 9)
		assert.Equal(t, []byte("012345678"), out)
		assert.Equal(t, int64(10), size)
	})
}
