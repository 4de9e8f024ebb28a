package server

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config is the process-wide, connection-independent configuration a
// Server is built from.
type Config struct {
	Exports *ExportSet

	// TLSConfig being non-nil is what makes NBD_OPT_STARTTLS legal
	// (spec.md §4.2: "accepted only if TLS is configured").
	TLSConfig *tls.Config

	// ConnectionTimeout arms the per-connection watchdog of spec.md §5 on
	// entry to READY; zero disables it.
	ConnectionTimeout time.Duration

	Logger  *logrus.Logger
	Metrics *metrics.Registry

	gatesMu sync.Mutex
	gates   map[*chain.Chain]*semaphore.Weighted
}

func (c *Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

// gateFor returns the weight-1 semaphore serializing access to ch, per
// spec.md §4.3: SERIALIZE_CONNECTIONS and SERIALIZE_ALL_REQUESTS both need
// a single shared gate per chain, created lazily and reused by every
// connection that resolves to that chain.
func (c *Config) gateFor(ch *chain.Chain) *semaphore.Weighted {
	c.gatesMu.Lock()
	defer c.gatesMu.Unlock()
	if c.gates == nil {
		c.gates = make(map[*chain.Chain]*semaphore.Weighted)
	}
	g, ok := c.gates[ch]
	if !ok {
		g = semaphore.NewWeighted(1)
		c.gates[ch] = g
	}
	return g
}
