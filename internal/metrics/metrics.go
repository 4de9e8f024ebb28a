// Package metrics exposes the ambient Prometheus counters/gauges this
// server keeps (SPEC_FULL.md §2): request counts per op, error counts per
// kind, and active-connection gauges. Grounded on the prometheus
// client_golang usage pattern in ClusterCockpit-cc-backend: one package-
// level registry, typed vector metrics with explicit label sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rclone/rnbd/internal/nbderr"
)

// Registry bundles the counters a server process exposes. Callers that
// don't want Prometheus wiring at all can simply never call NewRegistry
// and pass nil through internal/server; every increment method is a no-op
// on a nil *Registry.
type Registry struct {
	requests         *prometheus.CounterVec
	requestErrors    *prometheus.CounterVec
	activeConns      prometheus.Gauge
	chainBuildErrors prometheus.Counter
}

// NewRegistry constructs and registers the counters against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rnbd",
			Name:      "requests_total",
			Help:      "Transmission-phase requests handled, by op.",
		}, []string{"op"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rnbd",
			Name:      "request_errors_total",
			Help:      "Requests that failed, by error kind.",
		}, []string{"kind"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rnbd",
			Name:      "active_connections",
			Help:      "Connections currently in the transmission phase.",
		}),
		chainBuildErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rnbd",
			Name:      "chain_build_errors_total",
			Help:      "Chain construction failures at startup.",
		}),
	}
	reg.MustRegister(r.requests, r.requestErrors, r.activeConns, r.chainBuildErrors)
	return r
}

func (r *Registry) ObserveRequest(op string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(op).Inc()
}

func (r *Registry) ObserveError(kind nbderr.Kind) {
	if r == nil {
		return
	}
	r.requestErrors.WithLabelValues(kind.String()).Inc()
}

func (r *Registry) ConnectionOpened() {
	if r == nil {
		return
	}
	r.activeConns.Inc()
}

func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}
	r.activeConns.Dec()
}

func (r *Registry) ChainBuildError() {
	if r == nil {
		return
	}
	r.chainBuildErrors.Inc()
}
