// Package capability implements the per-(connection,export) capability
// memoization of spec.md §4's component E: the first query against a given
// export consults the top of the chain (which may recursively consult the
// layer below), and the answer is frozen for that tuple's lifetime.
package capability

import (
	"context"
	"sync"

	"github.com/rclone/rnbd/internal/chain"
)

// Set is the full capability answer of spec.md §3.
type Set struct {
	Size          uint64
	Writable      bool
	Flushable     bool
	Trimmable     bool
	Zeroable      bool
	FastZero      bool
	FUALevel      chain.FUALevel
	CacheLevel    chain.CacheLevel
	Extents       bool
	MultiConn     bool
	Rotational    bool
	BlockMin      uint32
	BlockPreferred uint32
	BlockMax      uint32
}

// Negotiator memoizes one Set per (connection handle identity, export
// name). A connection owns exactly one Negotiator for its lifetime; it is
// destroyed along with the connection (spec.md §3's lifecycle rule).
type Negotiator struct {
	mu    sync.Mutex
	cache map[string]*Set
}

// New returns an empty Negotiator, ready for one connection.
func New() *Negotiator {
	return &Negotiator{cache: make(map[string]*Set)}
}

// Get returns the memoized Set for export, querying the chain top on first
// use. Every query function in chain.Next may itself recurse into the
// layer below, so a single Get call can walk the whole chain once; after
// that the answer is stable for the rest of the connection, per spec.md
// §3's invariant.
func (n *Negotiator) Get(ctx context.Context, top chain.Next, export string) (*Set, error) {
	n.mu.Lock()
	if s, ok := n.cache[export]; ok {
		n.mu.Unlock()
		return s, nil
	}
	n.mu.Unlock()

	s, err := negotiate(ctx, top)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.cache[export]; ok {
		return existing, nil
	}
	n.cache[export] = s
	return s, nil
}

func negotiate(ctx context.Context, top chain.Next) (*Set, error) {
	size, err := top.GetSize(ctx)
	if err != nil {
		return nil, err
	}
	min, pref, max, err := top.BlockSize(ctx)
	if err != nil {
		return nil, err
	}
	writable, err := top.CanWrite(ctx)
	if err != nil {
		return nil, err
	}
	flushable, err := top.CanFlush(ctx)
	if err != nil {
		return nil, err
	}
	trimmable, err := top.CanTrim(ctx)
	if err != nil {
		return nil, err
	}
	zeroable, err := top.CanZero(ctx)
	if err != nil {
		return nil, err
	}
	fastZero, err := top.CanFastZero(ctx)
	if err != nil {
		return nil, err
	}
	fua, err := top.CanFUA(ctx)
	if err != nil {
		return nil, err
	}
	cacheLevel, err := top.CanCache(ctx)
	if err != nil {
		return nil, err
	}
	extents, err := top.CanExtents(ctx)
	if err != nil {
		return nil, err
	}
	multiConn, err := top.CanMultiConn(ctx)
	if err != nil {
		return nil, err
	}
	rotational, err := top.IsRotational(ctx)
	if err != nil {
		return nil, err
	}

	return &Set{
		Size:          size,
		Writable:      writable,
		Flushable:     flushable,
		Trimmable:     trimmable,
		Zeroable:      zeroable,
		FastZero:      fastZero,
		FUALevel:      fua,
		CacheLevel:    cacheLevel,
		Extents:       extents,
		MultiConn:     multiConn,
		Rotational:    rotational,
		BlockMin:      min,
		BlockPreferred: pref,
		BlockMax:      max,
	}, nil
}

// TransmissionFlags packs the Set into the NBD transmission flag bits
// carried by NBD_INFO_EXPORT / the oldstyle export reply.
func (s *Set) TransmissionFlags(hasFlags uint16) uint16 {
	flags := hasFlags
	if !s.Writable {
		flags |= flagReadOnly
	}
	if s.Flushable {
		flags |= flagSendFlush
	}
	if s.Trimmable {
		flags |= flagSendTrim
	}
	if s.Zeroable {
		flags |= flagSendWriteZero
	}
	if s.FastZero {
		flags |= flagSendFastZero
	}
	if s.Rotational {
		flags |= flagRotational
	}
	if s.MultiConn {
		flags |= flagCanMultiConn
	}
	if s.Extents {
		flags |= flagSendDF
	}
	if s.CacheLevel != chain.CacheNone {
		flags |= flagSendCache
	}
	return flags
}

// Bit values mirrored from internal/nbdproto's transmission flags (this
// package does not import nbdproto); kept in exact sync with the wire
// constants there.
const (
	flagReadOnly      uint16 = 1 << 1
	flagSendFlush     uint16 = 1 << 2
	flagRotational    uint16 = 1 << 4
	flagSendTrim      uint16 = 1 << 5
	flagSendWriteZero uint16 = 1 << 6
	flagSendDF        uint16 = 1 << 7
	flagCanMultiConn  uint16 = 1 << 8
	flagSendCache     uint16 = 1 << 10
	flagSendFastZero  uint16 = 1 << 11
)
