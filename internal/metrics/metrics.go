package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	LineIncomingMessages *prometheus.CounterVec
	LineOutgoingMessages *prometheus.CounterVec
	LineRequests         *prometheus.CounterVec
	LineLatency          *prometheus.HistogramVec
	StoreRequests        *prometheus.CounterVec
	StoreLatency         *prometheus.HistogramVec
	Turns                *prometheus.CounterVec
	Errors               *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			LineIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_incoming_messages_total",
				Help:      "Total incoming LINE webhook events processed.",
			}, []string{"type"}),
			LineOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_outgoing_messages_total",
				Help:      "Total replies sent through the LINE Messaging API.",
			}, []string{"type"}),
			LineRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_requests_total",
				Help:      "Total LINE API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			LineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "line_request_duration_seconds",
				Help:      "Latency distribution for LINE API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_requests_total",
				Help:      "Total conversation store operations by op and outcome.",
			}, []string{"op", "status"}),
			StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_request_duration_seconds",
				Help:      "Latency distribution for conversation store operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op", "status"}),
			Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_turns_total",
				Help:      "Total conversation turns by resulting state.",
			}, []string{"state"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.LineIncomingMessages,
			metricsInstance.LineOutgoingMessages,
			metricsInstance.LineRequests,
			metricsInstance.LineLatency,
			metricsInstance.StoreRequests,
			metricsInstance.StoreLatency,
			metricsInstance.Turns,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
