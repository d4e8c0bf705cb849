package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Charge attempts by payment response code",
		},
		[]string{"code"},
	)
	ReversalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reversals_total",
			Help: "Void and refund attempts by reversal response code",
		},
		[]string{"operation", "code"}, // void|refund
	)

	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(HTTPLatency)
	prometheus.MustRegister(PaymentsTotal)
	prometheus.MustRegister(ReversalsTotal)
	prometheus.MustRegister(GatewayLatency)
	prometheus.MustRegister(WorkerQueueDepth)
}
