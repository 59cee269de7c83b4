package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwkeefer/hiro/pkg/config"
)

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty input", ``, map[string]any{}},
		{"json object", `{"host":"a.test","port":8080}`, map[string]any{"host": "a.test", "port": float64(8080)}},
		{"json null", `null`, map[string]any{}},
		{"object as json string", `"{\"host\":\"a.test\"}"`, map[string]any{"host": "a.test"}},
		{"empty string", `""`, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeArguments(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects non-object", func(t *testing.T) {
		_, err := decodeArguments(json.RawMessage(`[1,2,3]`))
		assert.Error(t, err)
	})
}

func TestCoercer_Boolean(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
		fails bool
	}{
		{"native true", true, true, false},
		{"native false", false, false, false},
		{"string TRUE", "TRUE", true, false},
		{"string yes", "yes", true, false},
		{"string no", "no", false, false},
		{"string 1", "1", true, false},
		{"string 0", "0", false, false},
		{"numeric 1", float64(1), true, false},
		{"numeric 0", float64(0), false, false},
		{"string maybe", "maybe", false, true},
		{"numeric 2", float64(2), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoercer(map[string]any{"flag": tt.value})
			got := c.boolean("flag", false)
			if tt.fails {
				require.NotNil(t, c.Err())
				assert.Equal(t, KindValidationFailed, c.Err().Kind)
				return
			}
			require.Nil(t, c.Err())
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("absent uses default", func(t *testing.T) {
		c := newCoercer(map[string]any{})
		assert.True(t, c.boolean("flag", true))
		assert.Nil(t, c.Err())
	})
}

func TestCoercer_Integer(t *testing.T) {
	c := newCoercer(map[string]any{
		"native": float64(42),
		"text":   " 17 ",
		"frac":   float64(1.5),
		"word":   "many",
	})
	assert.Equal(t, 42, c.integer("native", 0))
	assert.Equal(t, 17, c.integer("text", 0))
	assert.Equal(t, 9, c.integer("absent", 9))
	c.integer("frac", 0)
	c.integer("word", 0)

	err := c.Err()
	require.NotNil(t, err)
	assert.Len(t, err.Fields, 2)
}

func TestCoercer_StringMap(t *testing.T) {
	t.Run("native object", func(t *testing.T) {
		c := newCoercer(map[string]any{"headers": map[string]any{"X-A": "1", "X-B": float64(2), "X-C": true}})
		m := c.stringMap("headers")
		require.Nil(t, c.Err())
		assert.Equal(t, map[string]string{"X-A": "1", "X-B": "2", "X-C": "true"}, m)
	})

	t.Run("json text form", func(t *testing.T) {
		c := newCoercer(map[string]any{"cookies": `{"sid":"abc","csrf":"xyz"}`})
		m := c.stringMap("cookies")
		require.Nil(t, c.Err())
		assert.Equal(t, map[string]string{"sid": "abc", "csrf": "xyz"}, m)
	})

	t.Run("rejects non-object", func(t *testing.T) {
		c := newCoercer(map[string]any{"cookies": "not json"})
		c.stringMap("cookies")
		require.NotNil(t, c.Err())
	})

	t.Run("rejects nested structures per key", func(t *testing.T) {
		c := newCoercer(map[string]any{"headers": map[string]any{"ok": "1", "bad": []any{1}}})
		c.stringMap("headers")
		err := c.Err()
		require.NotNil(t, err)
		assert.Equal(t, "headers.bad", err.Fields[0].Field)
	})
}

func TestCoercer_StringList(t *testing.T) {
	t.Run("native array", func(t *testing.T) {
		c := newCoercer(map[string]any{"tags": []any{"a", "b"}})
		assert.Equal(t, []string{"a", "b"}, c.stringList("tags"))
		assert.Nil(t, c.Err())
	})

	t.Run("json text form", func(t *testing.T) {
		c := newCoercer(map[string]any{"tags": `["a","b"]`})
		assert.Equal(t, []string{"a", "b"}, c.stringList("tags"))
		assert.Nil(t, c.Err())
	})

	t.Run("comma separated", func(t *testing.T) {
		c := newCoercer(map[string]any{"tags": "a, b , c"})
		assert.Equal(t, []string{"a", "b", "c"}, c.stringList("tags"))
		assert.Nil(t, c.Err())
	})
}

func TestCoercer_Outcome(t *testing.T) {
	tests := []struct {
		value any
		want  config.ActionOutcome
		fails bool
	}{
		{true, config.ActionOutcomeSuccess, false},
		{"yes", config.ActionOutcomeSuccess, false},
		{"FALSE", config.ActionOutcomeFailure, false},
		{"unknown", config.ActionOutcomeUnknown, false},
		{"Unknown", config.ActionOutcomeUnknown, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		c := newCoercer(map[string]any{"success": tt.value})
		got := c.outcome("success", config.ActionOutcomeUnknown)
		if tt.fails {
			require.NotNil(t, c.Err(), "value %v", tt.value)
			assert.Contains(t, c.Err().Fields[0].Expected, "unknown")
			continue
		}
		require.Nil(t, c.Err(), "value %v", tt.value)
		assert.Equal(t, tt.want, got)
	}
}

func TestCoercer_CollectsAllErrors(t *testing.T) {
	c := newCoercer(map[string]any{
		"host":  []any{"a.test"},
		"port":  "eighty",
		"https": "maybe",
	})
	c.requiredStr("missing")
	c.integer("port", 0)
	c.boolean("https", false)
	c.str("host", "")

	err := c.Err()
	require.NotNil(t, err)
	assert.Equal(t, KindValidationFailed, err.Kind)
	assert.Len(t, err.Fields, 4)

	fields := map[string]bool{}
	for _, f := range err.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["missing"])
	assert.True(t, fields["port"])
	assert.True(t, fields["https"])
	assert.True(t, fields["host"])
}

func TestCoercer_Scope(t *testing.T) {
	t.Run("native object", func(t *testing.T) {
		c := newCoercer(map[string]any{"scope": map[string]any{
			"in":  []any{"*.example.com"},
			"out": []any{"prod.example.com"},
		}})
		in, out := c.scope("scope")
		require.Nil(t, c.Err())
		assert.Equal(t, []string{"*.example.com"}, in)
		assert.Equal(t, []string{"prod.example.com"}, out)
	})

	t.Run("json text form", func(t *testing.T) {
		c := newCoercer(map[string]any{"scope": `{"in":["a.test"]}`})
		in, out := c.scope("scope")
		require.Nil(t, c.Err())
		assert.Equal(t, []string{"a.test"}, in)
		assert.Nil(t, out)
	})
}
