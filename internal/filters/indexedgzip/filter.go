package indexedgzip

import (
	"context"
	"io"
	"sync"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
)

// Config is the static, process-lifetime configuration for one
// indexed-decompression layer instance.
type Config struct {
	Span           int64 // access-point spacing target, spec.md default 1 MiB
	IndexPath      string
	CacheDepth     int   // spec.md default 8
	CacheBlockSize int64
}

// sharedState is the process-wide, build-once index shared by every
// connection to this export (spec.md §3: "shared by all connections to
// the same export"). Building it needs other connections to actually
// wait for completion rather than merely avoid re-running it, so this
// uses sync.Once rather than internal/once.Once — spec.md §5 itself notes
// the lock-free one-shot pattern is for initializers with no downstream
// ordering requirement, and callers that need ordering should use a
// proper mutex.
type sharedState struct {
	buildOnce sync.Once
	idx       *Index
	buildErr  error
	belowSize uint64
	cfg       Config
}

func (s *sharedState) ensureBuilt(ra *nextReaderAt, belowSize uint64) (*Index, error) {
	s.buildOnce.Do(func() {
		if s.cfg.IndexPath != "" {
			if idx, err := LoadIndex(s.cfg.IndexPath); err == nil {
				s.idx, s.belowSize = idx, belowSize
				return
			}
		}
		idx, err := BuildIndex(ra, s.cfg.Span)
		if err != nil {
			s.buildErr = err
			return
		}
		s.idx, s.belowSize = idx, belowSize
		if s.cfg.IndexPath != "" {
			_ = SaveIndex(s.cfg.IndexPath, idx)
		}
	})
	return s.idx, s.buildErr
}

// nextReaderAt adapts chain.Next's context-taking, fixed-size Pread into
// the io.ReaderAt the index builder and extractor need to seek around the
// compressed stream. Unlike a file, an NBD pread has no EOF of its own;
// this wrapper manufactures the io.EOF the stdlib decompressors expect by
// clamping reads to the known backing size.
type nextReaderAt struct {
	ctx       context.Context
	next      chain.Next
	belowSize uint64
}

func (n *nextReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) >= n.belowSize {
		return 0, io.EOF
	}
	want := uint64(len(p))
	remaining := n.belowSize - uint64(off)
	short := remaining < want
	if short {
		want = remaining
	}
	if err := n.next.Pread(n.ctx, p[:want], uint64(off)); err != nil {
		return 0, err
	}
	if short {
		return int(want), io.EOF
	}
	return int(want), nil
}

type conn struct {
	mu    sync.Mutex
	idx   *Index
	cache *blockCache
}

// New returns the indexed-decompression layer. The decoder holds
// intrinsic single-threaded state, so it declares SerializeRequests
// (spec.md §4.5.6); the block cache is per-connection (spec.md §5's
// shared-resources rule), the access-point index is shared and immutable
// after build.
func New(cfg Config) *chain.Layer {
	s := &sharedState{cfg: cfg}

	return &chain.Layer{
		Name: "indexed-gzip",
		Ops: chain.Ops{
			ThreadModel: chain.SerializeRequests,

			Open: func(ctx context.Context, next chain.Next, export string, readonly bool) (chain.Handle, error) {
				if _, err := next.Open(ctx, export, readonly); err != nil {
					return nil, err
				}
				return &conn{cache: newBlockCache(cfg.CacheDepth, cfg.CacheBlockSize)}, nil
			},
			Close: func(ctx context.Context, next chain.Next, h chain.Handle) {
				next.Close(ctx)
			},

			Prepare: func(ctx context.Context, next chain.Next, h chain.Handle) error {
				belowSize, err := next.GetSize(ctx)
				if err != nil {
					return err
				}
				ra := &nextReaderAt{ctx: ctx, next: next, belowSize: belowSize}
				idx, err := s.ensureBuilt(ra, belowSize)
				if err != nil {
					return err
				}
				c := h.(*conn)
				c.mu.Lock()
				c.idx = idx
				c.mu.Unlock()
				return nil
			},

			GetSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint64, error) {
				belowSize, err := next.GetSize(ctx)
				if err != nil {
					return 0, err
				}
				if belowSize != s.belowSize {
					return 0, nbderr.New(nbderr.IOFailure, "indexed-gzip: backing stream size changed since prepare")
				}
				return uint64(s.idx.TotalUncompressedLength), nil
			},
			CanWrite: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanTrim: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanZero: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanExtents: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},

			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				c := h.(*conn)
				c.mu.Lock()
				defer c.mu.Unlock()
				ra := &nextReaderAt{ctx: ctx, next: next, belowSize: s.belowSize}
				return c.cache.read(c.idx, ra, buf, int64(offset))
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				return nbderr.New(nbderr.ReadOnly, "indexed-gzip: export is read-only")
			},
		},
	}
}
