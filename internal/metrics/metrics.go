// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	TransportSelections *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	UpstreamResponses   *prometheus.CounterVec
	UpstreamErrors      *prometheus.CounterVec

	PlaylistsRewritten prometheus.Counter
	BytesStreamed      *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including body streaming.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		TransportSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_transport_selections_total",
			Help: "Upstream fetches by selected transport.",
		}, []string{"transport"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_proxy_upstream_head_duration_seconds",
			Help:    "Time until the upstream response head was received, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"transport"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_upstream_responses_total",
			Help: "Total upstream responses by transport and status code.",
		}, []string{"transport", "status_code"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_upstream_errors_total",
			Help: "Upstream failures by transport and error type.",
		}, []string{"transport", "type"}),

		PlaylistsRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_proxy_playlists_rewritten_total",
			Help: "Playlists buffered and rewritten.",
		}),

		BytesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_proxy_streamed_bytes_total",
			Help: "Body bytes written to clients by result kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.TransportSelections,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamErrors,
		m.PlaylistsRewritten,
		m.BytesStreamed,
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

// PathLabels returns a path normalizer that maps paths onto the given prefixes
// (plus "other"), keeping the path label bounded.
func PathLabels(prefixes ...string) func(string) string {
	return func(path string) string {
		for _, prefix := range prefixes {
			if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
				return prefix
			}
		}
		return "other"
	}
}
