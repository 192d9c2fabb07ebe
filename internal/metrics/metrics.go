// Package metrics provides Prometheus metrics for the forwarder.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"edge-forwarder/internal/config"
)

// Default histogram buckets for forwarding latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Rejection reasons recorded by ForwardRejections. They double as the
// outcome label of a forwarded request that got no target response.
const (
	ReasonMissingTarget  = "missing_target"
	ReasonInvalidTarget  = "invalid_target"
	ReasonTargetDenied   = "target_denied"
	ReasonDispatchFailed = "dispatch_failed"
)

// OutcomeKey is the echo.Context key under which the forward handler records
// what happened to a request.
const OutcomeKey = "forward_outcome"

// Request outcomes besides the rejection reasons.
const (
	OutcomeRelayed      = "relayed"       // target response relayed
	OutcomeLocal        = "local"         // served by an ops route
	OutcomeNotForwarded = "not_forwarded" // stopped by middleware before the forward handler
)

// Metrics holds all Prometheus metric collectors for the forwarder.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ForwardRejections *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_forwarder_http_requests_total",
			Help: "Total inbound HTTP requests by outcome.",
		}, []string{"method", "status_class", "route", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edge_forwarder_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_class", "route", "outcome"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_forwarder_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edge_forwarder_upstream_request_duration_seconds",
			Help:    "Time until target response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_forwarder_upstream_responses_total",
			Help: "Total target responses by method and status code.",
		}, []string{"method", "status_code"}),

		ForwardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_forwarder_rejections_total",
			Help: "Requests answered without a target response, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ForwardRejections,
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

// NormalizePath returns a bounded route label for Prometheus metrics.
// Every path outside the ops prefix is a forward, whatever its shape.
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, config.OpsPrefix) {
		return "forward"
	}
	rest := strings.TrimPrefix(path, config.OpsPrefix)
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	switch rest {
	case "healthz", "status", "metrics":
		return config.OpsPrefix + rest
	}
	return "ops_other"
}

// StatusClass returns the bounded class label ("2xx", "5xx", ...) of a status
// code. Relayed targets may answer with any code in 100-999.
func StatusClass(code int) string {
	if code < 100 || code > 999 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
