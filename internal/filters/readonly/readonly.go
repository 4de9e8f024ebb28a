// Package readonly implements the readonly filter: forces CanWrite,
// CanTrim and CanZero to false regardless of what the layer below answers,
// and rejects any write-shaped data op that reaches it anyway with
// READ_ONLY. Grounded on nbdkit's filters/readonly/readonly.c.
package readonly

import (
	"context"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
)

// New returns a readonly filter layer. It is stateless and safe under
// chain.Parallel.
func New() *chain.Layer {
	return &chain.Layer{
		Name: "readonly",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,

			CanWrite:    func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) { return false, nil },
			CanTrim:     func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) { return false, nil },
			CanZero:     func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) { return false, nil },
			CanFastZero: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) { return false, nil },

			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				return nbderr.New(nbderr.ReadOnly, "export is read-only")
			},
			Trim: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64) error {
				return nbderr.New(nbderr.ReadOnly, "export is read-only")
			},
			Zero: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, mayTrim, fastZero bool) error {
				return nbderr.New(nbderr.ReadOnly, "export is read-only")
			},
		},
	}
}
