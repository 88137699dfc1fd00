// Package metrics exposes Prometheus collectors for the tracker service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal               *prometheus.CounterVec
	scrapeDurationSeconds      *prometheus.HistogramVec
	fetchCacheTotal            *prometheus.CounterVec
	sweepsTotal                prometheus.Counter
	sweepCharactersTotal       *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	sweepInProgress            prometheus.Gauge
	eventsPublishedTotal       *prometheus.CounterVec
	pagesArchivedTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_scrapes_total",
				Help: "Total number of character scrapes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_scrape_duration_seconds",
				Help:    "Histogram of end-to-end scrape latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		fetchCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_fetch_cache_total",
				Help: "Profile page cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		sweepsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_sweeps_total",
				Help: "Total number of completed sweeps.",
			},
		)

		sweepCharactersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_sweep_characters_total",
				Help: "Characters processed by sweeps, labeled by result.",
			},
			[]string{"result"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracker_sweep_duration_seconds",
				Help:    "Histogram of sweep durations.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 3600},
			},
		)

		sweepInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_sweep_in_progress",
				Help: "1 while a sweep is running.",
			},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_events_published_total",
				Help: "Snapshot events published, labeled by result.",
			},
			[]string{"result"},
		)

		pagesArchivedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_pages_archived_total",
				Help: "Raw profile pages archived, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_rate_limit_delays_seconds",
				Help:    "Histogram of upstream rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records one scrape attempt.
func ObserveScrape(outcome string, duration time.Duration) {
	Init()
	scrapesTotal.WithLabelValues(outcome).Inc()
	scrapeDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCache records a fetch cache lookup.
func ObserveCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	fetchCacheTotal.WithLabelValues(result).Inc()
}

// SweepStarted flags a running sweep.
func SweepStarted() {
	Init()
	sweepInProgress.Set(1)
}

// ObserveSweep records a finished sweep.
func ObserveSweep(succeeded, failed int, duration time.Duration) {
	Init()
	sweepInProgress.Set(0)
	sweepsTotal.Inc()
	sweepCharactersTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	sweepCharactersTotal.WithLabelValues("failed").Add(float64(failed))
	sweepDurationSeconds.Observe(duration.Seconds())
}

// ObservePublish records a snapshot event publish attempt.
func ObservePublish(err error) {
	Init()
	eventsPublishedTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveArchive records a raw page archive attempt.
func ObserveArchive(err error) {
	Init()
	pagesArchivedTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
