package remap

import (
	"context"
	"testing"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func destAt(t *testing.T, regions []region, offset uint64) uint64 {
	t.Helper()
	r := lookup(regions, offset)
	require.LessOrEqual(t, r.Start, offset)
	require.GreaterOrEqual(t, r.End, offset)
	return r.Dest + (offset - r.Start)
}

// The rule list and priorities here are the worked overlap example: byte 9
// falls in the implicit identity rule, byte 10 is rule [10,19]→100 before
// the higher-priority rule takes over at 15, and byte 25 falls back to
// identity past the end of both explicit rules. Byte 15 lands at the start
// of [15,24]→200 (p=3), so its dest is 200, not 200 plus some offset; dest
// 205 belongs to byte 20, five bytes into that same rule.
func TestRegionTilingMatchesWorkedExample(t *testing.T) {
	regions := Build([]Rule{
		{Start: 10, End: 19, Dest: 100, Priority: 2},
		{Start: 15, End: 24, Dest: 200, Priority: 3},
	})

	assert.Equal(t, uint64(9), destAt(t, regions, 9))
	assert.Equal(t, uint64(100), destAt(t, regions, 10))
	assert.Equal(t, uint64(200), destAt(t, regions, 15))
	assert.Equal(t, uint64(205), destAt(t, regions, 20))
	assert.Equal(t, uint64(25), destAt(t, regions, 25))
}

func TestRegionTableTilesWithoutGapOrOverlap(t *testing.T) {
	regions := Build([]Rule{
		{Start: 10, End: 19, Dest: 100, Priority: 2},
		{Start: 15, End: 24, Dest: 200, Priority: 3},
	})

	require.NotEmpty(t, regions)
	assert.Equal(t, uint64(0), regions[0].Start)
	assert.Equal(t, maxUint64, regions[len(regions)-1].End)
	for i := 1; i < len(regions); i++ {
		assert.Equal(t, regions[i-1].End+1, regions[i].Start, "regions must meet exactly with no gap or overlap")
	}
}

func TestEmptyRulesYieldsSingleIdentityRegion(t *testing.T) {
	regions := Build(nil)
	require.Len(t, regions, 1)
	assert.Equal(t, uint64(0), regions[0].Start)
	assert.Equal(t, maxUint64, regions[0].End)
	assert.Equal(t, uint64(0), regions[0].Dest)
}

// memoryPlugin is a minimal terminal layer backed by a byte slice, for
// exercising New's Pread closure end-to-end through a real chain.Chain.
func memoryPlugin(buf []byte) *chain.Layer {
	return &chain.Layer{
		Name: "mem",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,
			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, p []byte, offset uint64) error {
				copy(p, buf[offset:offset+uint64(len(p))])
				return nil
			},
		},
	}
}

// TestNewPreadStitchesScenario3OverlappingRules is spec.md §8 scenario 3:
// rules 0-999:0 (p=1) and 500-1499:10000 (p=2) overlap on [500,999], so the
// higher-priority rule wins there; pread(len=1500, offset=0) must return
// bytes [0..499] from the identity half followed by [10000..10999] from the
// overriding rule's destination, stitched across the region boundary in one
// call.
func TestNewPreadStitchesScenario3OverlappingRules(t *testing.T) {
	buf := make([]byte, 20000)
	for i := range buf {
		buf[i] = byte(i*7 + i/251)
	}

	layer := New([]Rule{
		{Start: 0, End: 999, Dest: 0, Priority: 1},
		{Start: 500, End: 1499, Dest: 10000, Priority: 2},
	})
	ch, err := chain.Build(context.Background(), []*chain.Layer{layer, memoryPlugin(buf)})
	require.NoError(t, err)

	top := ch.Top()
	_, err = top.Open(context.Background(), "disk", false)
	require.NoError(t, err)

	out := make([]byte, 1500)
	require.NoError(t, top.Pread(context.Background(), out, 0))

	assert.Equal(t, buf[0:500], out[0:500])
	assert.Equal(t, buf[10000:11000], out[500:1500])
}
