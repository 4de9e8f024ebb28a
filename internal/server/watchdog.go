package server

import (
	"sync"
	"time"
)

// halfCloser is implemented by *net.TCPConn, *net.UnixConn, and vsock.Conn:
// the subset of net.Conn the watchdog needs to unblock a stuck read/write
// without tearing down the whole fd.
type halfCloser interface {
	CloseWrite() error
}

// watchdog is the per-connection one-shot timer of spec.md §5: armed on
// entry to READY, it half-closes the connection's write side on fire so
// any in-flight blocking I/O unblocks with a write error, then marks the
// connection dead. The "global connection lock" of spec.md §5 is realized
// here as the connection's own mutex, since sentinel/status are this
// connection's fields, not a process-wide table's.
type watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	magic   uint64
	armedAt uint64
	fired   bool
	conn    *Connection
}

// connMagic is a fixed sentinel stamped into every watchdog when it is
// created and checked by fire before it touches the connection (spec.md §5:
// "verifies the connection's magic sentinel and status"). Nothing clears
// it, so a torn-down connection is recognised by its DEAD or CLOSED state,
// not by the sentinel.
const connMagic uint64 = 0x524e4244574f4443 // "RNBDWODC"

func newWatchdog(c *Connection) *watchdog {
	return &watchdog{conn: c, magic: connMagic}
}

func (w *watchdog) arm(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired = false
	w.timer = time.AfterFunc(d, w.fire)
}

func (w *watchdog) disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.magic != connMagic || w.conn == nil {
		return
	}
	c := w.conn
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateDead || state == StateClosed {
		return
	}
	w.fired = true
	if hc, ok := c.rw.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
	c.mu.Lock()
	c.state = StateDead
	c.mu.Unlock()
}
