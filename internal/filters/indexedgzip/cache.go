package indexedgzip

import (
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rclone/rnbd/internal/nbderr"
)

// blockCache is the per-connection LRU of spec.md §3/§4.5.3: decompressed
// blocks of blockSize bytes, keyed by their uncompressed start offset.
type blockCache struct {
	lru       *lru.Cache[int64, []byte]
	blockSize int64
}

func newBlockCache(maxDepth int, blockSize int64) *blockCache {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	if blockSize <= 0 {
		blockSize = 64 * 1024
	}
	c, _ := lru.New[int64, []byte](maxDepth)
	return &blockCache{lru: c, blockSize: blockSize}
}

// read serves buf from cached blocks, extracting and inserting on a miss.
// A read straddling a block boundary re-enters the extractor once per
// block it touches (spec.md §4.5.3).
func (c *blockCache) read(idx *Index, ra io.ReaderAt, buf []byte, offset int64) error {
	want := int64(len(buf))
	var got int64
	for got < want {
		cur := offset + got
		blockStart := (cur / c.blockSize) * c.blockSize
		block, ok := c.lru.Get(blockStart)
		if !ok {
			blockLen := c.blockSize
			if remaining := idx.TotalUncompressedLength - blockStart; remaining < blockLen {
				if remaining <= 0 {
					return nbderr.New(nbderr.OutOfRange, "indexedgzip: read past end of stream")
				}
				blockLen = remaining
			}
			block = make([]byte, blockLen)
			if err := idx.Extract(ra, block, blockStart); err != nil {
				return err
			}
			c.lru.Add(blockStart, block)
		}

		innerOff := cur - blockStart
		avail := int64(len(block)) - innerOff
		if avail <= 0 {
			return nbderr.New(nbderr.OutOfRange, "indexedgzip: read past end of stream")
		}
		take := want - got
		if take > avail {
			take = avail
		}
		copy(buf[got:got+take], block[innerOff:innerOff+take])
		got += take
	}
	return nil
}
