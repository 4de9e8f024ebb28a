package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/filters/count"
	"github.com/rclone/rnbd/internal/filters/indexedgzip"
	"github.com/rclone/rnbd/internal/filters/openonce"
	"github.com/rclone/rnbd/internal/filters/readonly"
	"github.com/rclone/rnbd/internal/filters/remap"
	"github.com/rclone/rnbd/internal/filters/rotational"
	"github.com/rclone/rnbd/internal/filters/timelimit"
	"github.com/rclone/rnbd/internal/plugins/file"
)

// chainFlags holds every flag that shapes the filter chain, shared by all
// transport subcommands.
type chainFlags struct {
	path     string
	readOnly bool

	rotational bool
	openOnce   bool
	timeLimit  time.Duration

	gzipIndex  string
	gzipSpan   int64
	cacheDepth int
	cacheBlock int64

	remapRules []string

	metrics bool
}

func addChainFlags(f *chainFlags, fs flagSet) {
	fs.StringVar(&f.path, "path", "", "file or block device to serve (required)")
	fs.BoolVar(&f.readOnly, "read-only", false, "reject writes regardless of the underlying file's permissions")
	fs.BoolVar(&f.rotational, "rotational", false, "advertise the export as a rotational device")
	fs.BoolVar(&f.openOnce, "open-once", false, "open the plugin once for the process instead of once per connection")
	fs.DurationVar(&f.timeLimit, "idle-timeout", 0, "fail reads and writes with SHUTDOWN once a connection has been open this long (0 disables)")
	fs.StringVar(&f.gzipIndex, "gzip-index", "", "treat --path as a gzip stream and persist its access-point index here")
	fs.Int64Var(&f.gzipSpan, "gzip-span", 1<<20, "access-point spacing for --gzip-index, in bytes")
	fs.IntVar(&f.cacheDepth, "gzip-cache-blocks", 8, "decompressed block cache depth for --gzip-index")
	fs.Int64Var(&f.cacheBlock, "gzip-cache-block-size", 1<<20, "decompressed block cache block size for --gzip-index")
	fs.StringArrayVar(&f.remapRules, "remap", nil, "offset remap rule as start-end:dest[:priority] (repeatable; later rules outrank earlier ones on overlap unless priority is given explicitly)")
	fs.BoolVar(&f.metrics, "metrics", true, "count bytes read/written/trimmed/zeroed via the count filter")
}

// flagSet is the subset of *pflag.FlagSet buildChain's flag registration
// needs, so addChainFlags can be shared by cobra commands without importing
// pflag here directly.
type flagSet interface {
	StringVar(p *string, name string, value string, usage string)
	BoolVar(p *bool, name string, value bool, usage string)
	DurationVar(p *time.Duration, name string, value time.Duration, usage string)
	Int64Var(p *int64, name string, value int64, usage string)
	IntVar(p *int, name string, value int, usage string)
	StringArrayVar(p *[]string, name string, value []string, usage string)
}

// parseRemapRules turns each --remap flag value ("start-end:dest" or
// "start-end:dest:priority") into a remap.Rule. Rules default to a
// priority one higher than every rule before them, matching remap.Rule's
// "a rule declared later should outrank anything declared before it" rule
// so a bare list of --remap flags composes the way spec.md §4.6's
// overlap example expects without the caller spelling out priorities.
func parseRemapRules(specs []string) ([]remap.Rule, error) {
	rules := make([]remap.Rule, 0, len(specs))
	for i, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("rnbd: invalid --remap rule %q: want start-end:dest[:priority]", s)
		}
		bounds := strings.SplitN(parts[0], "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("rnbd: invalid --remap range %q: want start-end", parts[0])
		}
		start, err := strconv.ParseUint(bounds[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rnbd: invalid --remap start %q: %w", bounds[0], err)
		}
		end, err := strconv.ParseUint(bounds[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rnbd: invalid --remap end %q: %w", bounds[1], err)
		}
		dest, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rnbd: invalid --remap dest %q: %w", parts[1], err)
		}
		priority := i + 1
		if len(parts) == 3 {
			p, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("rnbd: invalid --remap priority %q: %w", parts[2], err)
			}
			priority = p
		}
		rules = append(rules, remap.Rule{Start: start, End: end, Dest: dest, Priority: priority})
	}
	return rules, nil
}

// buildChain assembles the layer list top-down from f (client-facing
// filters first, plugin last) and hands it to
// chain.Build, following the teacher's config-then-connect convention of
// constructing the full pipeline once at startup.
func buildChain(ctx context.Context, f *chainFlags, reg prometheus.Registerer) (*chain.Chain, error) {
	if f.path == "" {
		return nil, fmt.Errorf("rnbd: --path is required")
	}

	// layers[0] is client-facing; append filters in that order, plugin last.
	var layers []*chain.Layer

	if f.metrics {
		layers = append(layers, count.New(count.NewCounters(reg)))
	}
	if f.readOnly {
		layers = append(layers, readonly.New())
	}
	if f.timeLimit > 0 {
		layers = append(layers, timelimit.New(f.timeLimit))
	}
	layers = append(layers, rotational.New(f.rotational))
	if len(f.remapRules) > 0 {
		rules, err := parseRemapRules(f.remapRules)
		if err != nil {
			return nil, err
		}
		layers = append(layers, remap.New(rules))
	}
	if f.gzipIndex != "" {
		layers = append(layers, indexedgzip.New(indexedgzip.Config{
			Span:           f.gzipSpan,
			IndexPath:      f.gzipIndex,
			CacheDepth:     f.cacheDepth,
			CacheBlockSize: f.cacheBlock,
		}))
	}
	if f.openOnce {
		layers = append(layers, openonce.New(chain.SerializeRequests))
	}

	layers = append(layers, file.New(file.Config{Path: f.path, ReadOnly: f.readOnly}))

	return chain.Build(ctx, layers)
}
