package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithRegisterer(reg))

	r.RecordCacheLookup("binance", "fresh")
	r.RecordCacheLookup("binance", "fresh")
	r.RecordCacheLookup("binance", "stale")
	r.RecordPollFailure("coingecko")
	r.RecordObservations("binance", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("binance", "fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("binance", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollFailures.WithLabelValues("coingecko")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.observations.WithLabelValues("binance")))
}

func TestRecorderWorkerStateIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithRegisterer(reg))

	r.RecordWorkerState("binance", "running")
	r.RecordWorkerState("binance", "degraded")

	assert.Equal(t, 0.0, testutil.ToFloat64(r.workerState.WithLabelValues("binance", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workerState.WithLabelValues("binance", "degraded")))
}
