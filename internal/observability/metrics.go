// Package observability provides Prometheus metrics for the tracker, parser,
// planner and chain client.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder is a no-op then.
type Metrics struct {
	// Chain client
	RPCCalls *prometheus.CounterVec
	PoolWait prometheus.Histogram

	// Tracker
	TrackPolls           *prometheus.CounterVec
	ConfirmationAttempts prometheus.Histogram
	Resubmissions        prometheus.Counter

	// Parser
	SwapsParsed   *prometheus.CounterVec
	ParseFailures *prometheus.CounterVec

	// Planner
	PlansBuilt  prometheus.Counter
	PlanEntries prometheus.Histogram

	// Watcher
	LastProcessedBlock prometheus.Gauge
}

// NewMetrics registers every metric on reg. A nil reg uses a private registry
// so repeated construction in tests never collides.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gocopy"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_calls_total",
			Help:      "RPC calls by method and fault kind (ok on success)",
		}, []string{"method", "result"}),
		PoolWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "pool_checkout_seconds",
			Help:      "Time spent waiting for a pooled connection",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),

		TrackPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "polls_total",
			Help:      "Outcome updates by resulting status",
		}, []string{"status"}),
		ConfirmationAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "confirmation_attempts",
			Help:      "Polls needed before a confirmation wait finished",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		Resubmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "resubmissions_total",
			Help:      "Operations resubmitted after a revert or drop",
		}),

		SwapsParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "swaps_total",
			Help:      "Decoded swaps by router method",
		}, []string{"method"}),
		ParseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "failures_total",
			Help:      "Transactions that could not be parsed, by reason",
		}, []string{"reason"}),

		PlansBuilt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Copy-trade plans built",
		}),
		PlanEntries: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plan_entries",
			Help:      "Entries per copy-trade plan",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		LastProcessedBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "last_processed_block",
			Help:      "Highest block scanned for donor swaps",
		}),
	}
}

func (m *Metrics) RPC(method, result string) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(method, result).Inc()
}

func (m *Metrics) ObservePoolWait(seconds float64) {
	if m == nil {
		return
	}
	m.PoolWait.Observe(seconds)
}

func (m *Metrics) TrackPoll(status string) {
	if m == nil {
		return
	}
	m.TrackPolls.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveConfirmationAttempts(n int) {
	if m == nil {
		return
	}
	m.ConfirmationAttempts.Observe(float64(n))
}

func (m *Metrics) Resubmitted() {
	if m == nil {
		return
	}
	m.Resubmissions.Inc()
}

func (m *Metrics) SwapParsed(method string) {
	if m == nil {
		return
	}
	m.SwapsParsed.WithLabelValues(method).Inc()
}

func (m *Metrics) ParseFailed(reason string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) PlanBuilt(entries int) {
	if m == nil {
		return
	}
	m.PlansBuilt.Inc()
	m.PlanEntries.Observe(float64(entries))
}

func (m *Metrics) BlockProcessed(n uint64) {
	if m == nil {
		return
	}
	m.LastProcessedBlock.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
