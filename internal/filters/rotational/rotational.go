// Package rotational forces IsRotational to a fixed value regardless of
// the plugin's own answer, exercising the "filter overrides a capability
// query" rule of spec.md §4.1. Grounded on nbdkit's
// filters/rotational/rotational.c.
package rotational

import (
	"context"

	"github.com/rclone/rnbd/internal/chain"
)

// New returns a layer that always answers IsRotational with rotational.
func New(rotational bool) *chain.Layer {
	return &chain.Layer{
		Name: "rotational",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,
			IsRotational: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return rotational, nil
			},
		},
	}
}
