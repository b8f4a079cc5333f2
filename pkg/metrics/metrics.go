// Package metrics exposes the Prometheus registry shared by the cascade
// loader. All metrics are defined in their respective packages (acquire,
// reveal, ratelimit, client) via promauto to keep them next to the code
// that records them.
//
// This package provides the HTTP handler and a reference of every metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Acquisition Metrics (pkg/acquire):
//   - cascade_fetches_total{kind, outcome} (Counter): Page and supplemental fetches by outcome
//   - cascade_fetch_duration_seconds{kind} (Histogram): Fetch duration by kind
//   - cascade_items_appended_total (Counter): Items appended to acquisition logs
//   - cascade_pacing_wait_seconds (Histogram): Time spent waiting between request starts
//   - cascade_runs_total{state} (Counter): Runs by terminal state
//
// Reveal Metrics (pkg/reveal):
//   - cascade_visible_items (Gauge): Items revealed by the most recent cadence tick
//   - cascade_reveal_target_seconds (Gauge): Current target duration of the cascade
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cascade_rate_limit_remaining (Gauge): Requests left in the source's window
//   - cascade_rate_limit_waits_total (Counter): Requests held until the window reset
//   - cascade_rate_limited_responses_total (Counter): 429 responses received
//
// Request Metrics (pkg/client):
//   - cascade_source_requests_total{kind, status} (Counter): Requests by kind and HTTP status
//   - cascade_source_request_duration_seconds{kind} (Histogram): Request duration by kind
//   - cascade_source_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Example Prometheus Queries:
//
//   # Failed runs
//   rate(cascade_runs_total{state="failed"}[1h])
//
//   # Average pacing wait
//   rate(cascade_pacing_wait_seconds_sum[5m]) / rate(cascade_pacing_wait_seconds_count[5m])
//
//   # Budget running low
//   cascade_rate_limit_remaining < 5
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(cascade_source_request_duration_seconds_bucket[5m]))
