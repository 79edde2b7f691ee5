package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	LedgerMutations    *prometheus.CounterVec
	OTADispatches      *prometheus.CounterVec
	OTACommands        prometheus.Counter
	GeocoderRequests   *prometheus.CounterVec
	GeocoderLatency    *prometheus.HistogramVec
	RealtimeEvents     *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = newMetrics(namespace)
		prometheus.MustRegister(metricsInstance.collectors()...)
	})
	return metricsInstance
}

// NewUnregistered builds a fresh set of collectors without touching the default registry.
// Tests use it so they can run in parallel without duplicate registration panics.
func NewUnregistered(namespace string) *Metrics {
	return newMetrics(namespace)
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		LedgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Balance ledger mutations by payment method and outcome.",
		}, []string{"method", "outcome"}),
		OTADispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_dispatches_total",
			Help:      "OTA deployment dispatches by outcome.",
		}, []string{"outcome"}),
		OTACommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_commands_total",
			Help:      "OTA_UPDATE command rows written.",
		}),
		GeocoderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocoder_requests_total",
			Help:      "Geocoder API requests by status.",
		}, []string{"status"}),
		GeocoderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocoder_request_duration_seconds",
			Help:      "Latency distribution for geocoder requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Change events published by table.",
		}, []string{"table"}),
		WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_outgoing_messages_total",
			Help:      "Total outgoing WhatsApp messages sent.",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code.",
		}, []string{"route", "code"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LedgerMutations,
		m.OTADispatches,
		m.OTACommands,
		m.GeocoderRequests,
		m.GeocoderLatency,
		m.RealtimeEvents,
		m.WAOutgoingMessages,
		m.HTTPRequests,
		m.Errors,
	}
}
