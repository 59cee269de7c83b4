package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := []float32{0.25, -1, 3.5, 0}
		formatted := formatVector(in)
		require.IsType(t, "", formatted)
		assert.Equal(t, "[0.25,-1,3.5,0]", formatted)

		out, err := parseVector(formatted.(string))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("empty vector is SQL NULL", func(t *testing.T) {
		assert.Nil(t, formatVector(nil))
		assert.Nil(t, formatVector([]float32{}))
	})

	t.Run("parse rejects malformed literals", func(t *testing.T) {
		for _, s := range []string{"", "1,2,3", "[1,2", "[a,b]"} {
			_, err := parseVector(s)
			assert.Error(t, err, "literal %q", s)
		}
	})

	t.Run("parse accepts the empty literal", func(t *testing.T) {
		out, err := parseVector("[]")
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func TestDiffLines(t *testing.T) {
	t.Run("identical text yields an empty diff", func(t *testing.T) {
		d := diffLines("a\nb", "a\nb")
		assert.Empty(t, d.Added)
		assert.Empty(t, d.Removed)
	})

	t.Run("pure addition", func(t *testing.T) {
		d := diffLines("a\nb", "a\nb\nc")
		assert.Equal(t, []string{"c"}, d.Added)
		assert.Empty(t, d.Removed)
	})

	t.Run("pure removal", func(t *testing.T) {
		d := diffLines("a\nb\nc", "a\nc")
		assert.Equal(t, []string{"b"}, d.Removed)
		assert.Empty(t, d.Added)
	})

	t.Run("replacement reports both sides", func(t *testing.T) {
		d := diffLines("the waf blocks quotes", "the waf allows quotes")
		assert.Equal(t, []string{"the waf blocks quotes"}, d.Removed)
		assert.Equal(t, []string{"the waf allows quotes"}, d.Added)
	})

	t.Run("from empty", func(t *testing.T) {
		d := diffLines("", "first line")
		assert.Equal(t, []string{"first line"}, d.Added)
		assert.Empty(t, d.Removed)
	})

	t.Run("crlf input is normalised", func(t *testing.T) {
		d := diffLines("a\r\nb", "a\nb")
		assert.Empty(t, d.Added)
		assert.Empty(t, d.Removed)
	})
}
