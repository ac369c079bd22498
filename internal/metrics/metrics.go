package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges are partitioned by endpoint name where the
// measurement belongs to a single upstream provider.

var (
	// Router
	RouterFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "failures_total",
		Help:      "Total failures reported against an endpoint",
	}, []string{"endpoint"})

	RouterSuccessesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "successes_total",
		Help:      "Total successes reported against an endpoint",
	}, []string{"endpoint"})

	RouterQuarantinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "quarantines_total",
		Help:      "Total endpoint quarantine transitions",
	}, []string{"endpoint"})

	RouterWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "warnings_total",
		Help:      "Total warning events emitted for an endpoint",
	}, []string{"endpoint"})

	RouterEndpointErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "endpoint_error_count",
		Help:      "Current error count of an endpoint",
	}, []string{"endpoint"})

	RouterEndpointQuarantined = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "endpoint_quarantined",
		Help:      "1 if the endpoint is quarantined, 0 otherwise",
	}, []string{"endpoint"})

	RouterExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "exhausted_total",
		Help:      "Total selections that failed because no endpoint was healthy",
	})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times an RPC call waited for a rate limiter token",
	}, []string{"endpoint"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "JSON-RPC call duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "method"})

	// Watcher
	WatcherTargetsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "watcher",
		Name:      "targets_active",
		Help:      "Number of targets with an active subscription",
	})

	WatcherBalanceChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "watcher",
		Name:      "balance_changes_total",
		Help:      "Total balance change events by direction",
	}, []string{"endpoint", "direction"})

	WatcherTargetsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "watcher",
		Name:      "targets_stopped_total",
		Help:      "Total targets whose monitoring stopped because the endpoint was quarantined",
	}, []string{"endpoint"})

	// Forwarder
	ForwarderTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "forwarder",
		Name:      "transfers_total",
		Help:      "Total forward attempts by result",
	}, []string{"result"})

	ForwarderLamportsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "forwarder",
		Name:      "lamports_forwarded_total",
		Help:      "Total lamports submitted for forwarding",
	})

	ForwarderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "forwarder",
		Name:      "transfer_duration_seconds",
		Help:      "Time from forward decision to signer response",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	SignerBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "forwarder",
		Name:      "signer_breaker_state",
		Help:      "Signer circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Analyzer
	AnalyzerSignaturesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "analyzer",
		Name:      "signatures_scanned_total",
		Help:      "Total signatures scanned",
	})

	AnalyzerSignaturesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "analyzer",
		Name:      "signatures_skipped_total",
		Help:      "Total signatures skipped because they were already analyzed",
	})

	AnalyzerSwapsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "analyzer",
		Name:      "swaps_matched_total",
		Help:      "Total transactions matching the tracked program id",
	})

	AnalyzerCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "analyzer",
		Name:      "cache_lookups_total",
		Help:      "Signature outcome cache lookups by backend and result",
	}, []string{"backend", "result"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "alert",
		Name:      "failed_total",
		Help:      "Total alert deliveries that failed",
	}, []string{"channel", "type"})

	// Admin
	AdminRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total admin requests rejected by the rate limiter",
	}, []string{"route"})

	AdminMonitoringChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "admin",
		Name:      "monitoring_changes_total",
		Help:      "Total monitoring start/stop requests by action and result",
	}, []string{"action", "result"})
)
