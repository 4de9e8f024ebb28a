// Package chain implements the filter/plugin chain: the composable "next"
// pipeline of pluggable layers terminating at a data source (spec.md §4.1).
// It is modeled directly on the way rclone's backend/union and
// backend/crypt wrap one fs.Fs in another and forward through a Features
// struct of nilable function pointers — a layer here declares only the ops
// it overrides, and anything it leaves nil forwards to the layer below.
//
// Handle plumbing mirrors nbdkit's own next_ops: a layer's Open returns ITS
// OWN per-connection handle, which every other callback on that layer
// receives back; the Next passed alongside is already bound to the layer
// below's own handle (Next.Open stores it internally), so a layer calling
// next.Pread(...) never needs to know or pass what's below it is holding.
package chain

import (
	"context"

	"github.com/rclone/rnbd/internal/nbderr"
)

// ThreadModel is the chain-wide concurrency contract (spec.md §4.3), from
// weakest to strongest.
type ThreadModel int

const (
	SerializeConnections ThreadModel = iota
	SerializeAllRequests
	SerializeRequests
	Parallel
)

func (m ThreadModel) String() string {
	switch m {
	case SerializeConnections:
		return "SERIALIZE_CONNECTIONS"
	case SerializeAllRequests:
		return "SERIALIZE_ALL_REQUESTS"
	case SerializeRequests:
		return "SERIALIZE_REQUESTS"
	case Parallel:
		return "PARALLEL"
	default:
		return "UNKNOWN"
	}
}

// Min returns the weaker (more restrictive) of two models.
func Min(a, b ThreadModel) ThreadModel {
	if a < b {
		return a
	}
	return b
}

// Extent describes one extent in a BLOCK_STATUS reply (spec.md §3/§6):
// Length bytes starting at Offset carry the context-specific Flags (for
// base:allocation, nbdproto.StateHole/StateZero).
type Extent struct {
	Offset uint64
	Length uint64
	Flags  uint32
}

// ExportInfo is the capability-independent description of an export
// (spec.md §3's Export: name, size, block-size hints).
type ExportInfo struct {
	Name           string
	Description    string
	Size           uint64
	BlockMin       uint32
	BlockPreferred uint32
	BlockMax       uint32
}

// Handle is the opaque per-(layer,connection) state a layer's Open
// produces (spec.md §3's "per-connection handle"). Layers type-assert
// their own concrete type out of it; the runtime never looks inside.
type Handle any

// Ops is the full set of callbacks a layer may implement. Every field is
// optional (nil means "not overridden"); Next gives the default forward-to
// implementation for whatever the layer leaves nil, so a struct literal
// populating only Pread is already a legal, composable layer.
//
// Every non-Open/Config callback receives h, the Handle THIS layer's own
// Open produced (if this layer never implements Open, the handle the layer
// below returned from its Open), and next, which
// is already bound to the layer below's own handle — callers never pass a
// Handle to next.
type Ops struct {
	// Config-phase.
	Config func(next Next) error

	// Per-connection lifecycle. Open receives the handle produced by THIS
	// layer's own Open is the return value, not a parameter; a layer that
	// needs to open what's below first calls next.Open itself.
	Open     func(ctx context.Context, next Next, export string, readonly bool) (Handle, error)
	Prepare  func(ctx context.Context, next Next, h Handle) error
	Finalize func(ctx context.Context, next Next, h Handle) error
	Close    func(ctx context.Context, next Next, h Handle)

	// Capability queries. Returning (false, nil) from a Can* means "no";
	// the zero value of the function pointer (nil) means "ask next".
	GetSize           func(ctx context.Context, next Next, h Handle) (uint64, error)
	BlockSize         func(ctx context.Context, next Next, h Handle) (min, preferred, max uint32, err error)
	ExportDescription func(ctx context.Context, next Next, h Handle) (string, error)
	CanWrite          func(ctx context.Context, next Next, h Handle) (bool, error)
	CanFlush          func(ctx context.Context, next Next, h Handle) (bool, error)
	CanTrim           func(ctx context.Context, next Next, h Handle) (bool, error)
	CanZero           func(ctx context.Context, next Next, h Handle) (bool, error)
	CanFastZero       func(ctx context.Context, next Next, h Handle) (bool, error)
	CanFUA            func(ctx context.Context, next Next, h Handle) (FUALevel, error)
	CanCache          func(ctx context.Context, next Next, h Handle) (CacheLevel, error)
	CanExtents        func(ctx context.Context, next Next, h Handle) (bool, error)
	CanMultiConn      func(ctx context.Context, next Next, h Handle) (bool, error)
	IsRotational      func(ctx context.Context, next Next, h Handle) (bool, error)

	// Data operations.
	Pread   func(ctx context.Context, next Next, h Handle, buf []byte, offset uint64) error
	Pwrite  func(ctx context.Context, next Next, h Handle, buf []byte, offset uint64, fua bool) error
	Trim    func(ctx context.Context, next Next, h Handle, offset, length uint64) error
	Zero    func(ctx context.Context, next Next, h Handle, offset, length uint64, mayTrim, fastZero bool) error
	Flush   func(ctx context.Context, next Next, h Handle) error
	Cache   func(ctx context.Context, next Next, h Handle, offset, length uint64) error
	Extents func(ctx context.Context, next Next, h Handle, offset, length uint64, reqOne bool) ([]Extent, error)

	ListExports   func(ctx context.Context, next Next) ([]string, error)
	DefaultExport func(ctx context.Context, next Next) (string, error)

	// ThreadModel declares the strongest concurrency the layer can permit;
	// the zero value (SerializeConnections) is deliberately the most
	// restrictive so a layer author must opt in to anything looser. Use
	// chain.Parallel for a stateless layer.
	ThreadModel ThreadModel

	// SharedState marks a layer that shares one process-wide handle across
	// connections (spec.md §4.3's openonce example); it tightens the
	// chain's effective model per the rule in §4.3.
	SharedState bool
}

// FUALevel and CacheLevel are the tri-state capability answers of spec.md
// §3's capability set.
type FUALevel int

const (
	FUANone FUALevel = iota
	FUAEmulate
	FUANative
)

type CacheLevel int

const (
	CacheNone CacheLevel = iota
	CacheEmulate
	CacheNative
)

// Layer is a named, constructed chain node: a value carrying its Ops table
// plus whatever private config it captured at construction. Layers are
// built by a constructor function registered in a chain's layer list; the
// constructor closes over its own state rather than exposing it, matching
// rclone's "Fs struct with unexported fields, public only via interfaces"
// idiom.
type Layer struct {
	Name string
	Ops  Ops
}

// Unsupported is the error a layer may return from a Can* query to mean
// "not just false, actively refuses" — most layers instead just return
// (false, nil); Unsupported exists for layers like the readonly filter
// that want NOT_SUPPORTED rather than silent downgrade on a Zero/Trim/etc
// call that slipped past a stale capability answer.
func Unsupported(msg string) error {
	return nbderr.New(nbderr.NotSupported, msg)
}
