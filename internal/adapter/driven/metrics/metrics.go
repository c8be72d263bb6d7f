// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

const namespace = "ratingsync"

var _ driven.RatingMetrics = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the service. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
	ShopifyRequests       *prometheus.CounterVec
	RatingsSubmitted      *prometheus.CounterVec
	CorruptHistory        prometheus.Counter
	WriteBackFailures     prometheus.Counter
	CredentialCacheHits   prometheus.Counter
	CredentialCacheMisses prometheus.Counter
}

// New creates and registers the metrics on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ShopifyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shopify_requests_total",
			Help:      "Outbound Admin API calls by operation and outcome.",
		}, []string{"op", "outcome"}), // outcome: ok, http_error, transport_error
		RatingsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_submitted_total",
			Help:      "Rating submissions by outcome.",
		}, []string{"outcome"}), // outcome: accepted, rejected, failed
		CorruptHistory: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_history_total",
			Help:      "Stored rating histories that could not be parsed and were treated as empty.",
		}),
		WriteBackFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "average_writeback_failures_total",
			Help:      "Failed best-effort average write-backs on the read path.",
		}),
		CredentialCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential_cache",
			Name:      "hits_total",
			Help:      "Credential lookups served from memory.",
		}),
		CredentialCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential_cache",
			Name:      "misses_total",
			Help:      "Credential lookups that went to the store.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTPRequest records one served request. route is the matched mux
// pattern, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ShopifyRequest implements shopify.RequestRecorder.
func (m *Metrics) ShopifyRequest(op model.RemoteOp, outcome string) {
	m.ShopifyRequests.WithLabelValues(string(op), outcome).Inc()
}

func (m *Metrics) SubmissionRecorded(outcome string) {
	m.RatingsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CorruptHistoryDetected() {
	m.CorruptHistory.Inc()
}

func (m *Metrics) WriteBackFailed() {
	m.WriteBackFailures.Inc()
}

// CredentialCacheHit and CredentialCacheMiss implement application.CacheObserver.
func (m *Metrics) CredentialCacheHit() {
	m.CredentialCacheHits.Inc()
}

func (m *Metrics) CredentialCacheMiss() {
	m.CredentialCacheMisses.Inc()
}
