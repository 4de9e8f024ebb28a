package indexedgzip

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressedStub(compressed []byte) *chain.Layer {
	return &chain.Layer{
		Name: "compressed-backing",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,
			GetSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint64, error) {
				return uint64(len(compressed)), nil
			},
			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				off := int(offset)
				var n int
				if off < len(compressed) {
					n = copy(buf, compressed[off:])
				}
				for i := n; i < len(buf); i++ {
					buf[i] = 0
				}
				return nil
			},
		},
	}
}

func TestIndexedGzipFilterServesRangedReads(t *testing.T) {
	var compressed bytes.Buffer
	plain := make([]byte, 60_000)
	fillPattern(plain)
	gw := gzip.NewWriter(&compressed)
	_, err := gw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	ctx := context.Background()
	c, err := chain.Build(ctx, []*chain.Layer{
		New(Config{Span: 4096, CacheDepth: 4, CacheBlockSize: 8192}),
		compressedStub(compressed.Bytes()),
	})
	require.NoError(t, err)

	top := c.Top()
	_, err = top.Open(ctx, "default", true)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(ctx))

	size, err := top.GetSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(plain)), size)

	buf := make([]byte, 2048)
	require.NoError(t, top.Pread(ctx, buf, 10_000))
	assert.Equal(t, plain[10_000:12_048], buf)

	writable, err := top.CanWrite(ctx)
	require.NoError(t, err)
	assert.False(t, writable)
}
