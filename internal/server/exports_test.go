package server

import (
	"testing"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportSetResolveDefault(t *testing.T) {
	a := &chain.Chain{}
	b := &chain.Chain{}
	set := NewExportSet("a", map[string]*chain.Chain{"a": a, "b": b})

	c, canonical, ok := set.Resolve("")
	require.True(t, ok)
	assert.Same(t, a, c)
	assert.Equal(t, "a", canonical)
}

func TestExportSetResolveNamed(t *testing.T) {
	a := &chain.Chain{}
	b := &chain.Chain{}
	set := NewExportSet("a", map[string]*chain.Chain{"a": a, "b": b})

	c, canonical, ok := set.Resolve("b")
	require.True(t, ok)
	assert.Same(t, b, c)
	assert.Equal(t, "b", canonical)
}

func TestExportSetResolveUnknown(t *testing.T) {
	set := NewExportSet("a", map[string]*chain.Chain{"a": {}})
	_, _, ok := set.Resolve("nope")
	assert.False(t, ok)
}

func TestExportSetNamesSorted(t *testing.T) {
	set := NewExportSet("b", map[string]*chain.Chain{"b": {}, "a": {}, "c": {}})
	assert.Equal(t, []string{"a", "b", "c"}, set.Names())
}
