package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Payment gateway metrics
	GatewayRequestsTotal *prometheus.CounterVec

	// Reconciliation metrics
	SyncTotal         *prometheus.CounterVec
	RecordWritesTotal prometheus.Counter
	SeatSyncTotal     *prometheus.CounterVec

	// Price cache metrics
	PriceCacheHitsTotal   prometheus.Counter
	PriceCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billingd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingd_gateway_requests_total",
				Help: "Total number of payment gateway calls",
			},
			[]string{"operation", "status"},
		),
		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingd_sync_total",
				Help: "Total number of subscription sync runs",
			},
			[]string{"result"},
		),
		RecordWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billingd_record_writes_total",
				Help: "Total number of billing record upserts",
			},
		),
		SeatSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billingd_seat_sync_total",
				Help: "Total number of team seat reconciliations",
			},
			[]string{"result"},
		),
		PriceCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billingd_price_cache_hits_total",
				Help: "Total number of price cache hits",
			},
		),
		PriceCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billingd_price_cache_misses_total",
				Help: "Total number of price cache misses",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.GatewayRequestsTotal,
			m.SyncTotal,
			m.RecordWritesTotal,
			m.SeatSyncTotal,
			m.PriceCacheHitsTotal,
			m.PriceCacheMissesTotal,
		)
	}

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
