package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rclone/rnbd/internal/nbderr"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequestIncrementsByOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveRequest("read")
	r.ObserveRequest("read")
	r.ObserveRequest("write")

	assert.Equal(t, float64(2), testutil.ToFloat64(r.requests.WithLabelValues("read")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.requests.WithLabelValues("write")))
}

func TestObserveErrorIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveError(nbderr.IOFailure)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.requestErrors.WithLabelValues("IO_FAILURE")))
}

func TestConnectionGaugeTracksOpenAndClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.activeConns))
}

func TestChainBuildErrorIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ChainBuildError()
	r.ChainBuildError()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.chainBuildErrors))
}

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveRequest("read")
		r.ObserveError(nbderr.IOFailure)
		r.ConnectionOpened()
		r.ConnectionClosed()
		r.ChainBuildError()
	})
}
