package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the per-gateway prometheus collectors. Registration is
// per-instance so tests can run gateways side by side.
type metrics struct {
	dispatched   prometheus.Counter
	outcomes     *prometheus.CounterVec
	lockTimeouts prometheus.Counter
	duration     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		dispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "acteon_dispatched_total",
			Help: "Total actions entering the dispatch pipeline.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_outcomes_total",
			Help: "Dispatch outcomes by kind.",
		}, []string{"kind"}),
		lockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "acteon_lock_timeouts_total",
			Help: "Dispatches aborted waiting for the per-action lock.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "acteon_dispatch_duration_seconds",
			Help:    "Wall time of one dispatch, lock wait included.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
