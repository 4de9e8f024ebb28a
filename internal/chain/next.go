package chain

import "context"

// Next is the handle any layer uses to invoke the layer below it. It hides
// whether that layer is another filter or the terminal plugin (spec.md
// §4.1). A Next is bound to one connection and, after Open is called on
// it, to that layer's own per-connection Handle — every other method
// operates on that stored handle, so callers never pass one in.
type Next interface {
	Open(ctx context.Context, export string, readonly bool) (Handle, error)
	Prepare(ctx context.Context) error
	Finalize(ctx context.Context) error
	Close(ctx context.Context)

	GetSize(ctx context.Context) (uint64, error)
	BlockSize(ctx context.Context) (min, preferred, max uint32, err error)
	ExportDescription(ctx context.Context) (string, error)
	CanWrite(ctx context.Context) (bool, error)
	CanFlush(ctx context.Context) (bool, error)
	CanTrim(ctx context.Context) (bool, error)
	CanZero(ctx context.Context) (bool, error)
	CanFastZero(ctx context.Context) (bool, error)
	CanFUA(ctx context.Context) (FUALevel, error)
	CanCache(ctx context.Context) (CacheLevel, error)
	CanExtents(ctx context.Context) (bool, error)
	CanMultiConn(ctx context.Context) (bool, error)
	IsRotational(ctx context.Context) (bool, error)

	Pread(ctx context.Context, buf []byte, offset uint64) error
	Pwrite(ctx context.Context, buf []byte, offset uint64, fua bool) error
	Trim(ctx context.Context, offset, length uint64) error
	Zero(ctx context.Context, offset, length uint64, mayTrim, fastZero bool) error
	Flush(ctx context.Context) error
	Cache(ctx context.Context, offset, length uint64) error
	Extents(ctx context.Context, offset, length uint64, reqOne bool) ([]Extent, error)

	ListExports(ctx context.Context) ([]string, error)
	DefaultExport(ctx context.Context) (string, error)
}

// node implements Next by closing over one layer, the Next for the layer
// below it, and (after Open) this layer's own handle. Every method either
// calls the layer's override or, if nil, forwards straight to below — the
// "implicit default" of spec.md §4.1 that makes the chain composable
// without a language-level inheritance mechanism.
type node struct {
	layer  *Layer
	below  Next
	handle Handle
}

func (n *node) Open(ctx context.Context, export string, readonly bool) (Handle, error) {
	var h Handle
	var err error
	if f := n.layer.Ops.Open; f != nil {
		h, err = f(ctx, n.below, export, readonly)
	} else {
		h, err = n.below.Open(ctx, export, readonly)
	}
	n.handle = h
	return h, err
}

func (n *node) Prepare(ctx context.Context) error {
	if f := n.layer.Ops.Prepare; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.Prepare(ctx)
}

func (n *node) Finalize(ctx context.Context) error {
	if f := n.layer.Ops.Finalize; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.Finalize(ctx)
}

func (n *node) Close(ctx context.Context) {
	if f := n.layer.Ops.Close; f != nil {
		f(ctx, n.below, n.handle)
		return
	}
	n.below.Close(ctx)
}

func (n *node) GetSize(ctx context.Context) (uint64, error) {
	if f := n.layer.Ops.GetSize; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.GetSize(ctx)
}

func (n *node) BlockSize(ctx context.Context) (uint32, uint32, uint32, error) {
	if f := n.layer.Ops.BlockSize; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.BlockSize(ctx)
}

func (n *node) ExportDescription(ctx context.Context) (string, error) {
	if f := n.layer.Ops.ExportDescription; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.ExportDescription(ctx)
}

func (n *node) CanWrite(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanWrite; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanWrite(ctx)
}

func (n *node) CanFlush(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanFlush; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanFlush(ctx)
}

func (n *node) CanTrim(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanTrim; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanTrim(ctx)
}

func (n *node) CanZero(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanZero; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanZero(ctx)
}

func (n *node) CanFastZero(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanFastZero; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanFastZero(ctx)
}

func (n *node) CanFUA(ctx context.Context) (FUALevel, error) {
	if f := n.layer.Ops.CanFUA; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanFUA(ctx)
}

func (n *node) CanCache(ctx context.Context) (CacheLevel, error) {
	if f := n.layer.Ops.CanCache; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanCache(ctx)
}

func (n *node) CanExtents(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanExtents; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanExtents(ctx)
}

func (n *node) CanMultiConn(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.CanMultiConn; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.CanMultiConn(ctx)
}

func (n *node) IsRotational(ctx context.Context) (bool, error) {
	if f := n.layer.Ops.IsRotational; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.IsRotational(ctx)
}

func (n *node) Pread(ctx context.Context, buf []byte, offset uint64) error {
	if f := n.layer.Ops.Pread; f != nil {
		return f(ctx, n.below, n.handle, buf, offset)
	}
	return n.below.Pread(ctx, buf, offset)
}

func (n *node) Pwrite(ctx context.Context, buf []byte, offset uint64, fua bool) error {
	if f := n.layer.Ops.Pwrite; f != nil {
		return f(ctx, n.below, n.handle, buf, offset, fua)
	}
	return n.below.Pwrite(ctx, buf, offset, fua)
}

func (n *node) Trim(ctx context.Context, offset, length uint64) error {
	if f := n.layer.Ops.Trim; f != nil {
		return f(ctx, n.below, n.handle, offset, length)
	}
	return n.below.Trim(ctx, offset, length)
}

func (n *node) Zero(ctx context.Context, offset, length uint64, mayTrim, fastZero bool) error {
	if f := n.layer.Ops.Zero; f != nil {
		return f(ctx, n.below, n.handle, offset, length, mayTrim, fastZero)
	}
	return n.below.Zero(ctx, offset, length, mayTrim, fastZero)
}

func (n *node) Flush(ctx context.Context) error {
	if f := n.layer.Ops.Flush; f != nil {
		return f(ctx, n.below, n.handle)
	}
	return n.below.Flush(ctx)
}

func (n *node) Cache(ctx context.Context, offset, length uint64) error {
	if f := n.layer.Ops.Cache; f != nil {
		return f(ctx, n.below, n.handle, offset, length)
	}
	return n.below.Cache(ctx, offset, length)
}

func (n *node) Extents(ctx context.Context, offset, length uint64, reqOne bool) ([]Extent, error) {
	if f := n.layer.Ops.Extents; f != nil {
		return f(ctx, n.below, n.handle, offset, length, reqOne)
	}
	return n.below.Extents(ctx, offset, length, reqOne)
}

func (n *node) ListExports(ctx context.Context) ([]string, error) {
	if f := n.layer.Ops.ListExports; f != nil {
		return f(ctx, n.below)
	}
	return n.below.ListExports(ctx)
}

func (n *node) DefaultExport(ctx context.Context) (string, error) {
	if f := n.layer.Ops.DefaultExport; f != nil {
		return f(ctx, n.below)
	}
	return n.below.DefaultExport(ctx)
}

// terminal is the Next below the plugin. GetSize and Pread reaching it are
// chain invariant violations (the plugin must implement both per spec.md
// §3); Pwrite, Trim, Zero, Flush, Cache and Extents fail with
// NOT_SUPPORTED; every other call gets a conservative default (no-op
// lifecycle, "no" capability answers, default block sizes, the empty
// default export).
type terminal struct{}

func (terminal) Open(ctx context.Context, export string, readonly bool) (Handle, error) {
	return nil, nil
}
func (terminal) Prepare(ctx context.Context) error  { return nil }
func (terminal) Finalize(ctx context.Context) error { return nil }
func (terminal) Close(ctx context.Context)          {}
func (terminal) GetSize(ctx context.Context) (uint64, error) {
	return 0, chainInvariant("plugin must implement get_size")
}
func (terminal) BlockSize(ctx context.Context) (uint32, uint32, uint32, error) {
	return 1, 4096, 0xffffffff, nil
}
func (terminal) ExportDescription(ctx context.Context) (string, error) { return "", nil }
func (terminal) CanWrite(ctx context.Context) (bool, error)            { return false, nil }
func (terminal) CanFlush(ctx context.Context) (bool, error)            { return false, nil }
func (terminal) CanTrim(ctx context.Context) (bool, error)             { return false, nil }
func (terminal) CanZero(ctx context.Context) (bool, error)             { return false, nil }
func (terminal) CanFastZero(ctx context.Context) (bool, error)         { return false, nil }
func (terminal) CanFUA(ctx context.Context) (FUALevel, error)          { return FUANone, nil }
func (terminal) CanCache(ctx context.Context) (CacheLevel, error)      { return CacheNone, nil }
func (terminal) CanExtents(ctx context.Context) (bool, error)          { return false, nil }
func (terminal) CanMultiConn(ctx context.Context) (bool, error)        { return false, nil }
func (terminal) IsRotational(ctx context.Context) (bool, error)        { return false, nil }
func (terminal) Pread(ctx context.Context, buf []byte, offset uint64) error {
	return chainInvariant("plugin must implement pread")
}
func (terminal) Pwrite(ctx context.Context, buf []byte, offset uint64, fua bool) error {
	return Unsupported("no plugin accepts writes")
}
func (terminal) Trim(ctx context.Context, offset, length uint64) error {
	return Unsupported("trim")
}
func (terminal) Zero(ctx context.Context, offset, length uint64, mayTrim, fastZero bool) error {
	return Unsupported("zero")
}
func (terminal) Flush(ctx context.Context) error { return Unsupported("flush") }
func (terminal) Cache(ctx context.Context, offset, length uint64) error {
	return Unsupported("cache")
}
func (terminal) Extents(ctx context.Context, offset, length uint64, reqOne bool) ([]Extent, error) {
	return nil, Unsupported("extents")
}
func (terminal) ListExports(ctx context.Context) ([]string, error) { return []string{""}, nil }
func (terminal) DefaultExport(ctx context.Context) (string, error) { return "", nil }

func chainInvariant(msg string) error {
	return &chainInvariantError{msg}
}

type chainInvariantError struct{ msg string }

func (e *chainInvariantError) Error() string { return "chain: invariant violated: " + e.msg }
