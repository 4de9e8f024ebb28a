package server

import (
	"context"
	"io"
	"sync"

	"github.com/rclone/rnbd/internal/capability"
	"github.com/rclone/rnbd/internal/chain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// metaContextBinding records one accepted NBD_OPT_SET_META_CONTEXT entry:
// the id the server assigned and the context name it names (spec.md §4.2
// — "stores an ordered list of accepted context ids").
type metaContextBinding struct {
	ID   uint32
	Name string
}

// Connection is one client's worth of the state machine of spec.md §4.2: a
// single duplex stream, walked from NEW_SEND through OPT_WAIT into READY
// and then the RECV_REQUEST/DISPATCH/SEND_REPLY loop until DEAD or CLOSED.
type Connection struct {
	id  string
	rw  io.ReadWriteCloser
	log *logrus.Entry
	cfg *Config
	wd  *watchdog

	mu    sync.Mutex
	state State

	structuredReply bool
	extendedHeaders bool
	metaContexts    []metaContextBinding
	nextContextID   uint32

	chainRef   *chain.Chain
	top        chain.Next
	caps       *capability.Set
	exportName string
	readonly   bool
	negotiator *capability.Negotiator

	// connGate, held for the connection's whole life, implements
	// SERIALIZE_CONNECTIONS; requestGate, acquired per request, implements
	// SERIALIZE_ALL_REQUESTS (spec.md §4.3). Both nil under PARALLEL or
	// SERIALIZE_REQUESTS, which this server's one-goroutine-per-connection
	// loop already satisfies without any extra gating.
	connGate    *semaphore.Weighted
	requestGate *semaphore.Weighted
}

// applyThreadModel acquires whatever gate the chain's effective thread
// model requires, right after that chain becomes this connection's live
// export (spec.md §4.3).
func (c *Connection) applyThreadModel(ctx context.Context) error {
	switch c.chainRef.ThreadModel() {
	case chain.SerializeConnections:
		g := c.cfg.gateFor(c.chainRef)
		if err := g.Acquire(ctx, 1); err != nil {
			return err
		}
		c.connGate = g
	case chain.SerializeAllRequests:
		c.requestGate = c.cfg.gateFor(c.chainRef)
	}
	return nil
}

// NewConnection wraps one accepted transport stream for serving.
func NewConnection(id string, rw io.ReadWriteCloser, cfg *Config) *Connection {
	c := &Connection{
		id:    id,
		rw:    rw,
		cfg:   cfg,
		state: StateNewSend,
	}
	c.log = cfg.logger().WithFields(logrus.Fields{"conn_id": id})
	c.wd = newWatchdog(c)
	return c
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Serve runs the connection to completion: handshake, then the
// transmission-phase loop, returning only once the connection is DEAD or
// CLOSED. It always closes the underlying stream and any opened chain
// handle before returning.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.teardown(ctx)

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ConnectionOpened()
		defer c.cfg.Metrics.ConnectionClosed()
	}

	if err := c.handshake(ctx); err != nil {
		c.log.WithError(err).Info("handshake did not complete")
		return err
	}
	if c.getState() != StateReady {
		// Client aborted during negotiation (NBD_OPT_ABORT); not an error.
		return nil
	}

	c.wd.arm(c.cfg.ConnectionTimeout)
	defer c.wd.disarm()

	return c.readyLoop(ctx)
}

func (c *Connection) teardown(ctx context.Context) {
	if c.top != nil && c.chainRef != nil {
		_ = c.top.Finalize(ctx)
		c.top.Close(ctx)
	}
	if c.connGate != nil {
		c.connGate.Release(1)
	}
	_ = c.rw.Close()
	c.setState(StateClosed)
}
