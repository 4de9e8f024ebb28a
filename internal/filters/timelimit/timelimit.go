// Package timelimit fails reads and writes with SHUTDOWN once a configured
// wall-clock duration, measured from Open, has passed; it does not close the
// connection, which goes on serving requests. It is independent of the
// per-connection watchdog of spec.md §5, which is armed once when the
// connection enters READY and is not reset by activity.
// Grounded on nbdkit's filters/time-limit/time-limit.c.
package timelimit

import (
	"context"
	"time"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
)

type handle struct {
	deadline time.Time
}

// New returns a layer that fails Pread and Pwrite with SHUTDOWN once limit
// has elapsed since the connection's Open. Trim, Zero, Flush, Cache and
// Extents are forwarded without checking the deadline.
func New(limit time.Duration) *chain.Layer {
	return &chain.Layer{
		Name: "time-limit",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,

			Open: func(ctx context.Context, next chain.Next, export string, readonly bool) (chain.Handle, error) {
				if _, err := next.Open(ctx, export, readonly); err != nil {
					return nil, err
				}
				return &handle{deadline: time.Now().Add(limit)}, nil
			},
			Close: func(ctx context.Context, next chain.Next, h chain.Handle) {
				next.Close(ctx)
			},

			GetSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint64, error) {
				return next.GetSize(ctx)
			},

			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				if time.Now().After(h.(*handle).deadline) {
					return nbderr.New(nbderr.Shutdown, "time-limit exceeded")
				}
				return next.Pread(ctx, buf, offset)
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				if time.Now().After(h.(*handle).deadline) {
					return nbderr.New(nbderr.Shutdown, "time-limit exceeded")
				}
				return next.Pwrite(ctx, buf, offset, fua)
			},
		},
	}
}
