// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for latency through the tunnel. Circuits to hidden
// services are slow to build, so the upper buckets reach further than usual.
var defaultBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// ModeKey is the echo context key the proxy handler stores the request mode under.
const ModeKey = "proxy_mode"

// Request mode label values.
const (
	ModePlain     = "plain"
	ModeFakeHTTPS = "fake_https"
	ModeRejected  = "rejected"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec

	PipelineOutcomes *prometheus.CounterVec
	PumpedBytes      *prometheus.CounterVec
	ListenerErrors   prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "mode"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onion_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including body streaming.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "mode"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onion_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onion_proxy_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "scheme"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_proxy_upstream_responses_total",
			Help: "Total upstream responses by method, dispatch scheme and status code.",
		}, []string{"method", "scheme", "status_code"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_proxy_upstream_failures_total",
			Help: "Total upstream requests that failed before response headers arrived.",
		}, []string{"method", "scheme"}),

		PipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_proxy_pipeline_outcomes_total",
			Help: "Request pipeline outcomes by the stage they ended in.",
		}, []string{"stage", "outcome"}),

		PumpedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_proxy_pumped_bytes_total",
			Help: "Body bytes relayed, by direction.",
		}, []string{"direction"}),

		ListenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onion_proxy_listener_errors_total",
			Help: "Accept errors on the proxy listener that were retried.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
		m.PipelineOutcomes,
		m.PumpedBytes,
		m.ListenerErrors,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizeMode returns a bounded mode label. Anything unset or unknown counts as rejected.
func NormalizeMode(v any) string {
	switch v {
	case ModePlain, ModeFakeHTTPS:
		return v.(string)
	}
	return ModeRejected
}
