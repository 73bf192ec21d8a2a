// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Portfolio cache metrics
	RefreshRuns       *prometheus.CounterVec
	SnapshotStaleness prometheus.Gauge
	ActiveRefreshers  prometheus.Gauge
	CacheReads        *prometheus.CounterVec

	// Subscription metrics
	ActiveSubscriptions    prometheus.Gauge
	NotificationsDelivered prometheus.Counter
	HandlerErrors          prometheus.Counter
	SubscriptionErrors     prometheus.Counter

	// Swap pipeline metrics
	SwapStageDuration *prometheus.HistogramVec
	SwapStageErrors   *prometheus.CounterVec
	SwapsExecuted     *prometheus.CounterVec

	// Chain RPC metrics
	RPCCallLatency *prometheus.HistogramVec

	// Price oracle metrics
	PriceCacheReads  *prometheus.CounterVec
	PriceFetchErrors prometheus.Counter

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_service"
	}

	return &Metrics{
		// Portfolio cache metrics
		RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "refresh_runs_total",
			Help:      "Total number of portfolio refresh runs by status",
		}, []string{"status"}),
		SnapshotStaleness: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "snapshot_staleness_seconds",
			Help:      "Age of the oldest cached snapshot in seconds",
		}),
		ActiveRefreshers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "active_refreshers",
			Help:      "Number of running background refresh loops",
		}),
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "cache_reads_total",
			Help:      "Total number of cache reads by outcome",
		}, []string{"outcome"}),

		// Subscription metrics
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Number of live account subscriptions",
		}),
		NotificationsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_delivered_total",
			Help:      "Total number of account notifications delivered to handlers",
		}),
		HandlerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "handler_errors_total",
			Help:      "Total number of handler panics recovered",
		}),
		SubscriptionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "errors_total",
			Help:      "Total number of subscription read or handshake errors",
		}),

		// Swap pipeline metrics
		SwapStageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "stage_duration_seconds",
			Help:      "Swap pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		SwapStageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "stage_errors_total",
			Help:      "Total number of swap pipeline failures by stage",
		}, []string{"stage"}),
		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "executed_total",
			Help:      "Total number of swap attempts by outcome",
		}, []string{"outcome"}),

		// Chain RPC metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Price oracle metrics
		PriceCacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "cache_reads_total",
			Help:      "Total number of price cache reads by outcome",
		}, []string{"outcome"}),
		PriceFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed price fetches after retries",
		}),

		// Health metrics
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
