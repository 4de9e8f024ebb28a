package indexedgzip

import (
	"bytes"
	"compress/gzip"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillPattern avoids math/rand's global seed changing test output machine
// to machine; a fixed pattern is enough to exercise round-trip decoding.
func fillPattern(b []byte) {
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	_ = rand.Int // silence unused import if pattern changes later
}

func buildMultiMemberGzip(t *testing.T, memberSizes ...int) ([]byte, []byte) {
	t.Helper()
	var compressed bytes.Buffer
	var plain []byte
	for _, size := range memberSizes {
		data := make([]byte, size)
		fillPattern(data)
		plain = append(plain, data...)

		gw := gzip.NewWriter(&compressed)
		_, err := gw.Write(data)
		require.NoError(t, err)
		require.NoError(t, gw.Close())
	}
	return compressed.Bytes(), plain
}

func TestBuildGzipIndexRoundTripsAcrossMembers(t *testing.T) {
	compressed, plain := buildMultiMemberGzip(t, 50_000, 30_000, 20_000)
	ra := bytes.NewReader(compressed)

	idx, err := BuildIndex(ra, 1024)
	require.NoError(t, err)
	assert.Equal(t, ModeGzip, idx.Mode)
	assert.Equal(t, int64(len(plain)), idx.TotalUncompressedLength)
	assert.GreaterOrEqual(t, len(idx.Points), 3, "expect at least one access point per member")
	assert.Equal(t, int64(0), idx.Points[0].UncompressedOffset)

	for i := 1; i < len(idx.Points); i++ {
		assert.Greater(t, idx.Points[i].UncompressedOffset, idx.Points[i-1].UncompressedOffset)
	}

	// Arbitrary non-overlapping ranges must reassemble byte for byte.
	ranges := [][2]int64{{0, 1000}, {49_500, 2000}, {70_000, 15_000}, {95_000, 5_000}}
	for _, r := range ranges {
		start, length := r[0], r[1]
		buf := make([]byte, length)
		require.NoError(t, idx.Extract(ra, buf, start))
		assert.Equal(t, plain[start:start+length], buf, "range [%d,%d)", start, start+length)
	}
}

func TestExtractMatchesSequentialDecompression(t *testing.T) {
	compressed, plain := buildMultiMemberGzip(t, 40_000, 40_000)
	ra := bytes.NewReader(compressed)

	idx, err := BuildIndex(ra, 8192)
	require.NoError(t, err)

	offset := int64(2 * len(plain) / 3)
	length := int64(4096)
	if offset+length > int64(len(plain)) {
		length = int64(len(plain)) - offset
	}

	buf := make([]byte, length)
	require.NoError(t, idx.Extract(ra, buf, offset))
	assert.Equal(t, plain[offset:offset+length], buf)
}

func TestPersistedIndexReproducesExtraction(t *testing.T) {
	compressed, plain := buildMultiMemberGzip(t, 30_000, 30_000)
	ra := bytes.NewReader(compressed)

	idx, err := BuildIndex(ra, 4096)
	require.NoError(t, err)

	path := t.TempDir() + "/index.bin"
	require.NoError(t, SaveIndex(path, idx))

	loaded, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Mode, loaded.Mode)
	assert.Equal(t, idx.TotalUncompressedLength, loaded.TotalUncompressedLength)
	require.Equal(t, len(idx.Points), len(loaded.Points))

	buf := make([]byte, 1000)
	require.NoError(t, loaded.Extract(ra, buf, 31_000))
	assert.Equal(t, plain[31_000:32_000], buf)
}

// TestSingleMemberGzipYieldsOneAccessPoint documents a real capability
// reduction (see DESIGN.md Open Question 1): compress/gzip gives no
// byte-aligned restart boundary inside a member, so a single-member gzip
// stream — what a plain gzip.Writer produces, and the common case — always
// gets exactly one access point regardless of Span. Span only subdivides
// genuinely multi-member input (TestBuildGzipIndexRoundTripsAcrossMembers).
func TestSingleMemberGzipYieldsOneAccessPoint(t *testing.T) {
	compressed, plain := buildMultiMemberGzip(t, 60_000)
	ra := bytes.NewReader(compressed)

	idx, err := BuildIndex(ra, 4096)
	require.NoError(t, err)
	assert.Equal(t, ModeGzip, idx.Mode)
	require.Len(t, idx.Points, 1, "a single gzip member has no intra-member restart boundary to index")
	assert.Equal(t, int64(0), idx.Points[0].UncompressedOffset)

	buf := make([]byte, 1000)
	require.NoError(t, idx.Extract(ra, buf, 50_000))
	assert.Equal(t, plain[50_000:51_000], buf, "extraction still replays sequentially from the sole access point")
}

func TestLoadIndexRejectsImplausibleHeader(t *testing.T) {
	path := t.TempDir() + "/bad.bin"
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0o644))
	_, err := LoadIndex(path)
	require.Error(t, err)
}
