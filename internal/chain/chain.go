package chain

import "context"

// Chain is the ordered, fixed-for-process-lifetime composition of layers
// ending at the plugin (spec.md §3's Chain invariant). It is built once by
// Build and then only ever asked to produce a fresh Next per connection via
// Top.
type Chain struct {
	layers []*Layer // layers[0] is client-facing, layers[len-1] is the plugin
	model  ThreadModel
}

// Build orders layers[0]...layers[n-2] as filters and layers[n-1] as the
// plugin, runs each layer's Config callback against a throwaway
// config-phase Next (so a filter that needs to validate something about
// the chain below it at startup still can), and computes the chain's
// effective thread model per spec.md §4.3.
func Build(ctx context.Context, layers []*Layer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, chainInvariant("a chain needs at least a plugin")
	}
	c := &Chain{layers: layers}

	below := Next(terminal{})
	// Configure bottom-up so a filter's Config can probe the (now fully
	// configured) layer below it, mirroring the prepare-time capability
	// probing rule of spec.md §4.1.
	nodes := make([]Next, len(layers))
	for i := len(layers) - 1; i >= 0; i-- {
		n := &node{layer: layers[i], below: below}
		nodes[i] = n
		below = n
	}
	for i := len(layers) - 1; i >= 0; i-- {
		if f := layers[i].Ops.Config; f != nil {
			if err := f(nodes[i]); err != nil {
				return nil, err
			}
		}
	}

	c.model = computeThreadModel(layers)
	return c, nil
}

// computeThreadModel implements spec.md §4.3: the effective model is the
// minimum declared by any layer, further tightened to SerializeAllRequests
// if any SharedState layer only manages SerializeRequests (per-connection
// serialization isn't enough when state is shared across connections).
func computeThreadModel(layers []*Layer) ThreadModel {
	model := Parallel
	sharedNeedsTightening := false
	for _, l := range layers {
		model = Min(model, l.Ops.ThreadModel)
		if l.Ops.SharedState && l.Ops.ThreadModel == SerializeRequests {
			sharedNeedsTightening = true
		}
	}
	if sharedNeedsTightening && model > SerializeAllRequests {
		model = SerializeAllRequests
	}
	return model
}

// ThreadModel returns the chain's effective, immutable concurrency
// contract.
func (c *Chain) ThreadModel() ThreadModel { return c.model }

// Top builds a fresh Next representing the client-facing top of the chain,
// for use by exactly one connection. Internally this is the same
// bottom-up node wiring Build used, reconstructed per connection since each
// layer may produce a distinct per-connection Handle.
func (c *Chain) Top() Next {
	below := Next(terminal{})
	for i := len(c.layers) - 1; i >= 0; i-- {
		below = &node{layer: c.layers[i], below: below}
	}
	return below
}

// Layers exposes the ordered layer list read-only, for diagnostics (spec.md
// §9: "if diagnostics need to walk the chain, pass a visitor down" — here
// expressed as a read-only slice since Go has no risk of an implementer
// smuggling a back-reference through it).
func (c *Chain) Layers() []*Layer {
	out := make([]*Layer, len(c.layers))
	copy(out, c.layers)
	return out
}
