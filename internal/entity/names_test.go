package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", Shorten("short", 50))

	long := strings.Repeat("a", 60)
	got := ShortName(long)
	assert.Equal(t, 50, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	// Rune-based, not byte-based: umlauts must not be split.
	umlauts := strings.Repeat("ü", 60)
	got = ShortName(umlauts)
	assert.Equal(t, 50, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "Bad Münstereifel", CollapseWhitespace(" Bad  Münstereifel "))
	assert.Equal(t, "", CollapseWhitespace("   "))
}
