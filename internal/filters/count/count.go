// Package count tallies bytes read, written, trimmed and zeroed as they
// pass through the chain, exporting the running totals through Prometheus
// counters instead of the debug-log line nbdkit's equivalent filter emits
// at unload. Grounded on nbdkit's filters/count/count.c.
package count

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rclone/rnbd/internal/chain"
)

// Counters is the set of byte counters this filter increments; callers
// register them with a prometheus.Registerer (internal/metrics owns the
// registry this module actually wires up) and pass the result to New.
type Counters struct {
	Read    prometheus.Counter
	Written prometheus.Counter
	Zeroed  prometheus.Counter
	Trimmed prometheus.Counter
}

// NewCounters builds a Counters registered under reg with the standard
// label set (op ∈ {read,write,zero,trim}).
func NewCounters(reg prometheus.Registerer) *Counters {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rnbd",
		Subsystem: "count_filter",
		Name:      "bytes_total",
		Help:      "Bytes observed by the count filter, by operation.",
	}, []string{"op"})
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &Counters{
		Read:    vec.WithLabelValues("read"),
		Written: vec.WithLabelValues("write"),
		Zeroed:  vec.WithLabelValues("zero"),
		Trimmed: vec.WithLabelValues("trim"),
	}
}

// New returns a layer that forwards every data op unchanged and increments
// the matching counter only once the op below succeeds, mirroring count.c's
// "only count on r >= 0" rule.
func New(c *Counters) *chain.Layer {
	return &chain.Layer{
		Name: "count",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,

			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				err := next.Pread(ctx, buf, offset)
				if err == nil {
					c.Read.Add(float64(len(buf)))
				}
				return err
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				err := next.Pwrite(ctx, buf, offset, fua)
				if err == nil {
					c.Written.Add(float64(len(buf)))
				}
				return err
			},
			Trim: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64) error {
				err := next.Trim(ctx, offset, length)
				if err == nil {
					c.Trimmed.Add(float64(length))
				}
				return err
			},
			Zero: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, mayTrim, fastZero bool) error {
				err := next.Zero(ctx, offset, length, mayTrim, fastZero)
				if err == nil {
					c.Zeroed.Add(float64(length))
				}
				return err
			},
		},
	}
}
