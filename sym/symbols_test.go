package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusGlyph(t *testing.T) {
	assert.Equal(t, "▶", StatusGlyph("active"))
	assert.Equal(t, "⏸", StatusGlyph("paused"))
	assert.Equal(t, "✔", StatusGlyph("completed"))
	assert.Equal(t, "✖", StatusGlyph("cancelled"))
	assert.Equal(t, "?", StatusGlyph("deleted"))
}

func TestGlyphsDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, g := range []string{Pulse, PulseOpen, PulseClose, Lock, DB, Report, Notify} {
		assert.False(t, seen[g], "duplicate glyph %q", g)
		seen[g] = true
	}
}
