package count

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rclone/rnbd/internal/chain"
	"github.com/stretchr/testify/require"
)

func okStub() *chain.Layer {
	return &chain.Layer{
		Name: "stub",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,
			Pread:       func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error { return nil },
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				return nil
			},
		},
	}
}

func TestCountOnlyTalliesSuccessfulOps(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)

	ctx := context.Background()
	chn, err := chain.Build(ctx, []*chain.Layer{New(c), okStub()})
	require.NoError(t, err)

	top := chn.Top()
	_, err = top.Open(ctx, "default", false)
	require.NoError(t, err)

	require.NoError(t, top.Pread(ctx, make([]byte, 128), 0))
	require.NoError(t, top.Pwrite(ctx, make([]byte, 64), 0, false))

	require.Equal(t, float64(128), testutil.ToFloat64(c.Read))
	require.Equal(t, float64(64), testutil.ToFloat64(c.Written))
}
