// Package telemetry defines the Prometheus metrics shared by the monitoring
// pipeline and exposes the scrape handler.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restockd_cycles_total",
			Help: "Total number of completed poll cycles, labeled by user.",
		},
		[]string{"user"},
	)

	storesCheckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restockd_stores_checked_total",
			Help: "Total number of per-store poll attempts, labeled by outcome.",
		},
		[]string{"status"},
	)

	productsMatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restockd_products_matched_total",
			Help: "Total number of products that matched a keyword.",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restockd_notifications_total",
			Help: "Total number of notification payloads, labeled by outcome (sent, retried, dropped, evicted).",
		},
		[]string{"outcome"},
	)

	fetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restockd_fetch_failures_total",
			Help: "Total number of fetch failures, labeled by domain.",
		},
		[]string{"domain"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restockd_rate_limit_delay_seconds",
			Help:    "Histogram of per-domain rate limiter wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restockd_notification_queue_depth",
			Help: "Current depth of the outbound notification queue.",
		},
	)
)

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one completed poll cycle for a user.
func ObserveCycle(user string) {
	cyclesTotal.WithLabelValues(user).Inc()
}

// ObserveStoreStatus records a per-store poll outcome.
func ObserveStoreStatus(status string) {
	storesCheckedTotal.WithLabelValues(status).Inc()
}

// IncProductsMatched records matched products.
func IncProductsMatched(n int) {
	productsMatchedTotal.Add(float64(n))
}

// ObserveNotification records a notification outcome.
func ObserveNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchFailure records a failed listing fetch.
func ObserveFetchFailure(domain string) {
	fetchFailuresTotal.WithLabelValues(domain).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the domain limiter.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// SetQueueDepth records the outbound queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
