// Package file implements the terminal plugin that serves a regular file
// or block device from local disk: the bottom of every chain built by
// cmd/rnbd's default configuration. Grounded on nbdkit's plugins/file/file.c
// semantics (pread/pwrite at an explicit offset, O_DIRECT avoided by
// default, size from internal/devsize) and on rclone's os.File-backed
// Object implementations (backend/cache's local-cache file handling) for
// the Go idiom of wrapping *os.File behind a narrow interface.
package file

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/devsize"
	"github.com/rclone/rnbd/internal/nbderr"
)

// Config holds the plugin's static (process-lifetime) configuration.
type Config struct {
	Path     string
	ReadOnly bool
}

type handle struct {
	mu   sync.Mutex
	f    *os.File
	size uint64
}

// New returns the terminal plugin layer serving Config.Path. The file is
// opened once per connection in Open and closed in Close, matching the
// chain's per-connection handle lifecycle (spec.md §3).
func New(cfg Config) *chain.Layer {
	return &chain.Layer{
		Name: "file",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,

			Open: func(ctx context.Context, next chain.Next, export string, readonly bool) (chain.Handle, error) {
				flag := os.O_RDWR
				if cfg.ReadOnly || readonly {
					flag = os.O_RDONLY
				}
				f, err := os.OpenFile(cfg.Path, flag, 0)
				if err != nil {
					return nil, nbderr.Wrap(nbderr.IOFailure, err, "file: open")
				}
				size, err := devsize.Probe(f)
				if err != nil {
					f.Close()
					return nil, nbderr.Wrap(nbderr.IOFailure, err, "file: probe size")
				}
				return &handle{f: f, size: size}, nil
			},
			Close: func(ctx context.Context, next chain.Next, h chain.Handle) {
				h.(*handle).f.Close()
			},

			GetSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint64, error) {
				return h.(*handle).size, nil
			},
			BlockSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint32, uint32, uint32, error) {
				return 1, 4096, 0xffffffff, nil
			},
			CanWrite: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return !cfg.ReadOnly, nil
			},
			CanFlush: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return !cfg.ReadOnly, nil
			},
			CanTrim: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanZero: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return !cfg.ReadOnly, nil
			},
			CanFastZero: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanExtents: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},
			CanMultiConn: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return true, nil
			},
			IsRotational: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return false, nil
			},

			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				hh := h.(*handle)
				hh.mu.Lock()
				defer hh.mu.Unlock()
				_, err := hh.f.ReadAt(buf, int64(offset))
				if err != nil && err != io.EOF {
					return nbderr.Wrap(nbderr.IOFailure, err, "file: pread")
				}
				return nil
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				if cfg.ReadOnly {
					return nbderr.New(nbderr.ReadOnly, "file: export opened read-only")
				}
				hh := h.(*handle)
				hh.mu.Lock()
				defer hh.mu.Unlock()
				if _, err := hh.f.WriteAt(buf, int64(offset)); err != nil {
					return nbderr.Wrap(nbderr.IOFailure, err, "file: pwrite")
				}
				if fua {
					if err := hh.f.Sync(); err != nil {
						return nbderr.Wrap(nbderr.IOFailure, err, "file: fua sync")
					}
				}
				return nil
			},
			Zero: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, mayTrim, fastZero bool) error {
				if cfg.ReadOnly {
					return nbderr.New(nbderr.ReadOnly, "file: export opened read-only")
				}
				hh := h.(*handle)
				zeros := make([]byte, minInt(int(length), 1<<20))
				hh.mu.Lock()
				defer hh.mu.Unlock()
				remaining := length
				pos := offset
				for remaining > 0 {
					n := uint64(len(zeros))
					if n > remaining {
						n = remaining
					}
					if _, err := hh.f.WriteAt(zeros[:n], int64(pos)); err != nil {
						return nbderr.Wrap(nbderr.IOFailure, err, "file: zero")
					}
					pos += n
					remaining -= n
				}
				return nil
			},
			Flush: func(ctx context.Context, next chain.Next, h chain.Handle) error {
				if err := h.(*handle).f.Sync(); err != nil {
					return nbderr.Wrap(nbderr.IOFailure, err, "file: flush")
				}
				return nil
			},
		},
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
