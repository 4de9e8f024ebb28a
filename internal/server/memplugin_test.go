package server

import (
	"context"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
)

// newMemChain builds a one-layer chain serving data out of an in-memory
// buffer, for exercising the handshake/dispatch loop without a real file.
func newMemChain(t testingT, data []byte, writable bool) *chain.Chain {
	buf := make([]byte, len(data))
	copy(buf, data)

	layer := &chain.Layer{
		Name: "mem",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,
			Open: func(ctx context.Context, next chain.Next, export string, readonly bool) (chain.Handle, error) {
				return struct{}{}, nil
			},
			GetSize: func(ctx context.Context, next chain.Next, h chain.Handle) (uint64, error) {
				return uint64(len(buf)), nil
			},
			CanWrite: func(ctx context.Context, next chain.Next, h chain.Handle) (bool, error) {
				return writable, nil
			},
			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, p []byte, offset uint64) error {
				if offset+uint64(len(p)) > uint64(len(buf)) {
					return nbderr.New(nbderr.OutOfRange, "read past end")
				}
				copy(p, buf[offset:])
				return nil
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, p []byte, offset uint64, fua bool) error {
				if offset+uint64(len(p)) > uint64(len(buf)) {
					return nbderr.New(nbderr.OutOfRange, "write past end")
				}
				copy(buf[offset:], p)
				return nil
			},
			Extents: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, reqOne bool) ([]chain.Extent, error) {
				return []chain.Extent{{Length: length, Flags: 0}}, nil
			},
		},
	}

	ch, err := chain.Build(context.Background(), []*chain.Layer{layer})
	if err != nil {
		t.Fatalf("chain.Build: %v", err)
	}
	return ch
}

// testingT is the subset of *testing.T this helper needs, so it can live
// outside _test.go naming without importing "testing" into production code
// (it's still only ever compiled into test binaries since this file is
// itself _test.go).
type testingT interface {
	Fatalf(format string, args ...interface{})
}
