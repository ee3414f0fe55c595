package gorawrcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Keksclan/goRawrCache/cache"
)

// metrics turns cache events into Prometheus series.
type metrics struct {
	requests       *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	remoteOps      *prometheus.CounterVec
	loaderDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorawrcache_requests_total",
			Help: "Cached calls by how they were served",
		}, []string{"function", "result"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorawrcache_refresh_total",
			Help: "Refresh-ahead evaluations by outcome",
		}, []string{"function", "outcome"}),
		remoteOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorawrcache_remote_ops_total",
			Help: "Remote tier commands by operation and outcome",
		}, []string{"op", "outcome"}),
		loaderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gorawrcache_loader_duration_seconds",
			Help:    "Time spent in the wrapped function on a miss",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"function"}),
	}
}

func (m *metrics) ObserveCall(functionID string, result cache.Result) {
	m.requests.WithLabelValues(functionID, string(result)).Inc()
}

func (m *metrics) ObserveLoad(functionID string, elapsed time.Duration) {
	m.loaderDuration.WithLabelValues(functionID).Observe(elapsed.Seconds())
}

func (m *metrics) ObserveRefresh(functionID string, outcome cache.RefreshOutcome) {
	m.refreshes.WithLabelValues(functionID, string(outcome)).Inc()
}

func (m *metrics) ObserveRemote(op string, outcome cache.Outcome) {
	m.remoteOps.WithLabelValues(op, string(outcome)).Inc()
}

var _ cache.Observer = (*metrics)(nil)
