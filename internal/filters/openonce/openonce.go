// Package openonce implements the spec.md §4.3/§5 "shared-state filter"
// example: it opens the layer below exactly once for the whole process and
// hands every connection the same underlying handle, declaring
// SharedState so the chain's effective thread model tightens per §4.3's
// rule. Grounded on nbdkit's filters/openonce/openonce.c, which keeps one
// process-wide handle (there, an embedded filesystem) behind a mutex rather
// than ambient globals, per spec.md §9's "shared mutable singletons" note.
package openonce

import (
	"context"
	"sync"

	"github.com/rclone/rnbd/internal/chain"
)

// shared is the process-scoped state object spec.md §9 calls for:
// constructed by the chain builder (on first Open), destroyed on shutdown
// (the last Close), protected by a lock rather than left as an ambient
// global.
type shared struct {
	mu       sync.Mutex
	refs     int
	handle   chain.Handle
	openErr  error
	exportID string
}

// New returns an openonce filter layer declaring threadModel. Because the
// layer also sets SharedState, a declared chain.SerializeRequests is
// tightened to SerializeAllRequests for the whole chain by chain.Build's
// §4.3 rule; chain.Parallel is not tightened, and a stricter model is
// kept as declared.
func New(threadModel chain.ThreadModel) *chain.Layer {
	s := &shared{}
	return &chain.Layer{
		Name: "openonce",
		Ops: chain.Ops{
			ThreadModel: threadModel,
			SharedState: true,

			Open: func(ctx context.Context, next chain.Next, export string, readonly bool) (chain.Handle, error) {
				s.mu.Lock()
				defer s.mu.Unlock()
				if s.refs == 0 {
					s.handle, s.openErr = next.Open(ctx, export, readonly)
					s.exportID = export
				} else if s.exportID != export {
					// nbdkit's openonce refuses a second distinct export;
					// one shared handle can only back one export identity.
					return nil, chain.Unsupported("openonce: only one export may be opened")
				}
				s.refs++
				return s.handle, s.openErr
			},

			Close: func(ctx context.Context, next chain.Next, h chain.Handle) {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.refs--
				if s.refs == 0 {
					next.Close(ctx)
					s.handle = nil
				}
			},
		},
	}
}
