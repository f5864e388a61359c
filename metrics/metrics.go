// Package metrics exposes Prometheus metrics for the content delivery layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ContentMetrics collects cache, fetch and bundle metrics. It implements
// cache.Metrics and fetch.Metrics. The zero value is not usable; a nil
// *ContentMetrics must not be passed where an interface is expected.
type ContentMetrics struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    prometheus.Counter
	cacheEvictions *prometheus.CounterVec

	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	sourceAttempts *prometheus.CounterVec
	coalesced      prometheus.Counter

	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Histogram
	bundledItems *prometheus.CounterVec
}

// NewContentMetrics registers the metrics, prefixed with namespace, on a fresh
// registry that also carries the Go and process collectors.
func NewContentMetrics(namespace string) *ContentMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &ContentMetrics{
		registry: reg,
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Lookups that missed every cache tier",
		}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Memory cache entries removed, by reason",
		}, []string{"reason"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Completed fetches by outcome",
		}, []string{"outcome"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Fetch latency by outcome",
			Buckets: []float64{
				0.001, // memory hits
				0.01,
				0.05,
				0.1,
				0.5,
				1,
				5,
				20,
				60, // every source retried to its timeout
			},
		}, []string{"outcome"}),
		sourceAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Single requests against a source, by gateway and result",
		}, []string{"gateway", "result"}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_coalesced_total",
			Help:      "Fetches that joined an in-flight fetch of the same id",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by result",
		}, []string{"result"}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of uploaded payloads",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		bundledItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_items_total",
			Help:      "Ids processed by offline downloads, by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *ContentMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *ContentMetrics) CacheHit(tier string) {
	m.cacheHits.WithLabelValues(tier).Inc()
}

func (m *ContentMetrics) CacheMiss() {
	m.cacheMisses.Inc()
}

func (m *ContentMetrics) CacheEvicted(reason string, n int) {
	m.cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

func (m *ContentMetrics) FetchCompleted(outcome string, d time.Duration) {
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *ContentMetrics) SourceTried(gateway string, err error) {
	m.sourceAttempts.WithLabelValues(gateway, resultLabel(err)).Inc()
}

func (m *ContentMetrics) FetchCoalesced() {
	m.coalesced.Inc()
}

// UploadCompleted records one upload.
func (m *ContentMetrics) UploadCompleted(bytes int, err error) {
	m.uploads.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.uploadBytes.Observe(float64(bytes))
	}
}

// OfflineDownloaded records the counts of one offline download.
func (m *ContentMetrics) OfflineDownloaded(succeeded, failed int) {
	m.bundledItems.WithLabelValues("ok").Add(float64(succeeded))
	m.bundledItems.WithLabelValues("error").Add(float64(failed))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
