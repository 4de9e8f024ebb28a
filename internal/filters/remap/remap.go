// Package remap implements the offset-remapping layer of spec.md §4.6:
// overlapping, priority-ordered mapping rules resolved once, at config
// time, into a sorted, gap-free, non-overlapping region table, and every
// subsequent op sliced and translated through it. Grounded on nbdkit's
// filters/offset/offset.c and filters/multi-conn/multi-conn.c sense of a
// config-time static table, and on rclone's backend/union priority
// resolution (later-declared upstream wins) for the overlap rule.
package remap

import (
	"context"
	"sort"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
)

// Rule is one input mapping rule: bytes [Start, End] (inclusive) on this
// layer map to bytes starting at Dest on the layer below. Priority breaks
// ties among overlapping rules; a rule declared later should be given a
// strictly higher Priority than anything declared before it.
type Rule struct {
	Start    uint64
	End      uint64
	Dest     uint64
	Priority int
}

// region is one entry of the resolved, non-overlapping table: [Start, End]
// on this layer maps to Dest on the layer below.
type region struct {
	Start uint64
	End   uint64
	Dest  uint64
}

// Build resolves rules (plus the always-present implicit identity rule
// `[0, maxUint64] → 0` at the lowest priority) into the region table
// described by spec.md §4.6's five-step algorithm.
func Build(rules []Rule) []region {
	const identityPriority = -1
	all := make([]Rule, 0, len(rules)+1)
	all = append(all, rules...)
	all = append(all, Rule{Start: 0, End: maxUint64, Dest: 0, Priority: identityPriority})

	// Step 1: collect boundaries {start_i, end_i+1}.
	boundarySet := make(map[uint64]struct{})
	for _, r := range all {
		boundarySet[r.Start] = struct{}{}
		if r.End != maxUint64 {
			boundarySet[r.End+1] = struct{}{}
		}
	}
	bounds := make([]uint64, 0, len(boundarySet))
	for b := range boundarySet {
		bounds = append(bounds, b)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	// Step 2: split each rule at every boundary that falls strictly inside
	// it, producing sub-rules that never straddle a boundary.
	type sub struct {
		start, end uint64
		dest       uint64
		priority   int
	}
	var subs []sub
	for _, r := range all {
		rs, re, rd := r.Start, r.End, r.Dest
		for _, b := range bounds {
			if b > rs && b <= re {
				subs = append(subs, sub{start: rs, end: b - 1, dest: rd, priority: r.Priority})
				rd += b - rs
				rs = b
			}
		}
		subs = append(subs, sub{start: rs, end: re, dest: rd, priority: r.Priority})
	}

	// Step 3: sort by start (and, for equal start/end pairs, this also
	// groups duplicates together for step 4).
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].start != subs[j].start {
			return subs[i].start < subs[j].start
		}
		return subs[i].priority > subs[j].priority
	})

	// Step 4: walk and keep only the highest-priority sub-rule for each
	// distinct [start,end] span.
	var regions []region
	i := 0
	for i < len(subs) {
		best := subs[i]
		j := i + 1
		for j < len(subs) && subs[j].start == best.start && subs[j].end == best.end {
			j++
		}
		regions = append(regions, region{Start: best.start, End: best.end, Dest: best.dest})
		i = j
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	return regions
}

const maxUint64 = ^uint64(0)

func lookup(regions []region, offset uint64) region {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End >= offset })
	return regions[i]
}

// New returns a remap layer that resolves rules once at Config time and
// decomposes every data op against the resulting region table.
func New(rules []Rule) *chain.Layer {
	var regions []region

	return &chain.Layer{
		Name: "remap",
		Ops: chain.Ops{
			ThreadModel: chain.Parallel,

			Config: func(next chain.Next) error {
				regions = Build(rules)
				return nil
			},

			Pread: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64) error {
				return forEachSlice(regions, offset, uint64(len(buf)), func(destOff uint64, sliceBuf []byte) error {
					return next.Pread(ctx, sliceBuf, destOff)
				}, buf)
			},
			Pwrite: func(ctx context.Context, next chain.Next, h chain.Handle, buf []byte, offset uint64, fua bool) error {
				return forEachSlice(regions, offset, uint64(len(buf)), func(destOff uint64, sliceBuf []byte) error {
					return next.Pwrite(ctx, sliceBuf, destOff, fua)
				}, buf)
			},
			Trim: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64) error {
				return forEachRegion(regions, offset, length, func(destOff, sliceLen uint64) error {
					return next.Trim(ctx, destOff, sliceLen)
				})
			},
			Zero: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, mayTrim, fastZero bool) error {
				return forEachRegion(regions, offset, length, func(destOff, sliceLen uint64) error {
					return next.Zero(ctx, destOff, sliceLen, mayTrim, fastZero)
				})
			},
			Extents: func(ctx context.Context, next chain.Next, h chain.Handle, offset, length uint64, reqOne bool) ([]chain.Extent, error) {
				var out []chain.Extent
				var consumed uint64
				for consumed < length {
					cur := offset + consumed
					r := lookup(regions, cur)
					if r.End < cur {
						return out, nbderr.New(nbderr.OutOfRange, "remap: offset beyond region table")
					}
					avail := r.End - cur + 1
					take := length - consumed
					if take > avail {
						take = avail
					}
					destOff := r.Dest + (cur - r.Start)
					exts, err := next.Extents(ctx, destOff, take, reqOne)
					if err != nil {
						return out, err
					}
					for _, e := range exts {
						// Rewrite the layer-below extent offset back through
						// the inverse mapping for this region.
						translated := e
						translated.Offset = r.Start + (e.Offset - r.Dest)
						out = append(out, translated)
					}
					consumed += take
				}
				return out, nil
			},
		},
	}
}

// forEachSlice walks the byte range [offset, offset+length) across however
// many regions it touches, invoking fn once per region with the
// destination offset and the corresponding sub-slice of buf.
func forEachSlice(regions []region, offset, length uint64, fn func(destOff uint64, sliceBuf []byte) error, buf []byte) error {
	var consumed uint64
	for consumed < length {
		cur := offset + consumed
		r := lookup(regions, cur)
		if r.End < cur {
			return nbderr.New(nbderr.OutOfRange, "remap: offset beyond region table")
		}
		avail := r.End - cur + 1
		take := length - consumed
		if take > avail {
			take = avail
		}
		destOff := r.Dest + (cur - r.Start)
		if err := fn(destOff, buf[consumed:consumed+take]); err != nil {
			return err
		}
		consumed += take
	}
	return nil
}

// forEachRegion is forEachSlice's length-only counterpart, for ops with no
// payload buffer (trim/zero).
func forEachRegion(regions []region, offset, length uint64, fn func(destOff, sliceLen uint64) error) error {
	var consumed uint64
	for consumed < length {
		cur := offset + consumed
		r := lookup(regions, cur)
		if r.End < cur {
			return nbderr.New(nbderr.OutOfRange, "remap: offset beyond region table")
		}
		avail := r.End - cur + 1
		take := length - consumed
		if take > avail {
			take = avail
		}
		destOff := r.Dest + (cur - r.Start)
		if err := fn(destOff, take); err != nil {
			return err
		}
		consumed += take
	}
	return nil
}
