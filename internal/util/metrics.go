package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutation results
const (
	ResultApplied   = "applied"
	ResultNoop      = "noop"
	ResultRejected  = "rejected"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)

var (
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_mutations_total",
		Help: "Total number of ledger mutations by operation and result",
	}, []string{"operation", "result"})

	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_rejections_total",
		Help: "Total number of rejected mutations by error kind",
	}, []string{"kind"})

	MutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decoration_mutation_latency_seconds",
		Help:    "Latency of ledger mutations including lock wait and persistence",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	LockWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decoration_lock_wait_seconds",
		Help:    "Time spent waiting for the per-component serialization point",
		Buckets: prometheus.DefBuckets,
	})

	QuantityProducedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_quantity_produced_total",
		Help: "Freshly produced quantity by team",
	}, []string{"team"})

	StockUsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_stock_used_total",
		Help: "Pre-existing stock consumed by team",
	}, []string{"team"})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_broadcasts_total",
		Help: "Total number of component state broadcasts",
	}, []string{"result"})

	ClientMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoration_client_mutations_total",
		Help: "Client-side tentative mutations by outcome",
	}, []string{"outcome"})

	ClientConfirmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decoration_client_confirm_latency_seconds",
		Help:    "Time between tentative apply and authoritative reply",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
