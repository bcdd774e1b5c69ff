package univibe

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the caching/dedup/throttle layers. All methods are nil-receiver safe so the
// client can call them unconditionally. Safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheSize          prometheus.Gauge
	cacheInvalidations *prometheus.CounterVec

	dedupHits *prometheus.CounterVec

	throttleDelays *prometheus.CounterVec
	throttleWait   *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	sessionExpirations prometheus.Counter

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer; tests pass a private registry.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_requests_total",
				Help: "Total number of API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "univibe_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "univibe_requests_in_flight",
				Help: "Number of API requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "univibe_cache_size",
				Help: "Current number of entries in the response cache",
			},
		),
		cacheInvalidations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_cache_invalidations_total",
				Help: "Total number of cache entries evicted by mutations",
			},
			[]string{"method", "endpoint"},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_dedup_hits_total",
				Help: "Total number of requests served by a shared in-flight call",
			},
			[]string{"method", "endpoint"},
		),
		throttleDelays: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_throttle_delays_total",
				Help: "Total number of requests delayed by the throttle",
			},
			[]string{"method", "endpoint"},
		),
		throttleWait: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "univibe_throttle_wait_seconds",
				Help:    "Time requests spent waiting on the throttle",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_retries_total",
				Help: "Total number of rate-limit retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "univibe_errors_total",
				Help: "Total number of classified errors",
			},
			[]string{"kind", "method", "endpoint"},
		),
		sessionExpirations: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "univibe_session_expirations_total",
				Help: "Total number of 401 responses that invalidated the session",
			},
		),
		registry: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheSize sets the cache size gauge; negative sizes (unknown, e.g.
// remote backends) are skipped.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil || size < 0 {
		return
	}
	mc.cacheSize.Set(float64(size))
}

// RecordInvalidations counts cache entries evicted by a mutation.
func (mc *MetricsCollector) RecordInvalidations(method, endpoint string, removed int) {
	if mc == nil || removed <= 0 {
		return
	}
	mc.cacheInvalidations.WithLabelValues(method, endpoint).Add(float64(removed))
}

// RecordDedupHit increments the de-duplication hit counter.
func (mc *MetricsCollector) RecordDedupHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.dedupHits.WithLabelValues(method, endpoint).Inc()
}

// RecordThrottleDelay counts a throttled request and observes its wait.
func (mc *MetricsCollector) RecordThrottleDelay(method, endpoint string, delay time.Duration) {
	if mc == nil {
		return
	}
	mc.throttleDelays.WithLabelValues(method, endpoint).Inc()
	mc.throttleWait.WithLabelValues(method, endpoint).Observe(delay.Seconds())
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordError increments the error counter by kind.
func (mc *MetricsCollector) RecordError(kind, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind, method, endpoint).Inc()
}

// RecordSessionExpired counts a session-invalidating 401.
func (mc *MetricsCollector) RecordSessionExpired() {
	if mc == nil {
		return
	}
	mc.sessionExpirations.Inc()
}
