package hashkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginHashRejectsDot(t *testing.T) {
	_, ok := PluginHash("a.b")
	assert.False(t, ok)
}

func TestPluginHashCaseInsensitive(t *testing.T) {
	h1, ok1 := PluginHash("Alpha")
	h2, ok2 := PluginHash("alpha")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, h1, h2)
}

func TestPropertyHashRejectsLeadingTrailingDot(t *testing.T) {
	_, ok := PropertyHash(".x")
	assert.False(t, ok)
	_, ok = PropertyHash("x.")
	assert.False(t, ok)
}

func TestDistinctKeysYieldDistinctHashesForSameName(t *testing.T) {
	prop, ok := PropertyHash("run")
	require.True(t, ok)
	ev, ok := EventHash("run")
	require.True(t, ok)
	act, ok := ActionHash("run")
	require.True(t, ok)

	assert.NotEqual(t, prop, ev)
	assert.NotEqual(t, prop, act)
	assert.NotEqual(t, ev, act)
}

func TestParseQualifiedBoundaries(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"", false},
		{".x", false},
		{"x.", false},
		{"noDot", false},
		{"plugin.item", true},
		{"plugin.item.more", true},
	}
	for _, c := range cases {
		_, _, ok := ParseQualified(c.name)
		assert.Equalf(t, c.ok, ok, "name=%q", c.name)
	}
}

func TestNewPropertyHandleBoundaries(t *testing.T) {
	for _, n := range []string{"", ".x", "x.", "noDot"} {
		_, ok := NewPropertyHandle(n)
		assert.Falsef(t, ok, "expected rejection for %q", n)
	}
}

func TestPluginHashRoundTripIdempotence(t *testing.T) {
	h1, _ := PluginHash("  Alpha  ")
	h2, _ := PluginHash("alpha")
	assert.Equal(t, h1, h2)
}
