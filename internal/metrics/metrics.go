// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listingsTotal       *prometheus.CounterVec
	httpResponsesTotal  *prometheus.CounterVec
	discoveryPagesTotal *prometheus.CounterVec
	discoveredIDsTotal  prometheus.Counter
	batchDuration       prometheus.Histogram
	fetchDuration       prometheus.Histogram
	priceEventsTotal    prometheus.Counter

	once sync.Once
)

// Listing processing outcomes used as label values.
const (
	OutcomeFetched  = "fetched"
	OutcomeInactive = "inactive"
	OutcomeRetry    = "retry"
	OutcomeBlocked  = "blocked"
	OutcomeDup      = "duplicate"
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_listings_total",
				Help: "Listings processed by the fetch pool, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_http_responses_total",
				Help: "HTTP responses observed on detail pages, labeled by status code.",
			},
			[]string{"code"},
		)

		discoveryPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_discovery_pages_total",
				Help: "Index pages scanned during discovery, labeled by result.",
			},
			[]string{"result"},
		)

		discoveredIDsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_discovered_ids_total",
				Help: "Unique listing ids found across discovery scans.",
			},
		)

		batchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Duration of one fetch batch invocation.",
				Buckets: []float64{1, 5, 15, 60, 180, 600, 1800},
			},
		)

		fetchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Duration of one detail-page fetch including waits.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		priceEventsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_price_events_total",
				Help: "Price changes detected during persistence.",
			},
		)
	})
}

// ObserveListing counts one processed listing by outcome.
func ObserveListing(outcome string) {
	if listingsTotal != nil {
		listingsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveHTTPStatus counts a detail-page response status.
func ObserveHTTPStatus(code int) {
	if httpResponsesTotal != nil {
		httpResponsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// ObserveDiscoveryPage counts one scanned index page by result
// (ok, empty, blocked, error).
func ObserveDiscoveryPage(result string) {
	if discoveryPagesTotal != nil {
		discoveryPagesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveDiscoveredIDs counts unique ids found on one index page.
func ObserveDiscoveredIDs(n int) {
	if discoveredIDsTotal != nil && n > 0 {
		discoveredIDsTotal.Add(float64(n))
	}
}

// ObserveBatchDuration records how long one batch invocation took.
func ObserveBatchDuration(d time.Duration) {
	if batchDuration != nil {
		batchDuration.Observe(d.Seconds())
	}
}

// ObserveFetchDuration records how long one detail-page fetch took.
func ObserveFetchDuration(d time.Duration) {
	if fetchDuration != nil {
		fetchDuration.Observe(d.Seconds())
	}
}

// ObservePriceEvent counts one detected price change.
func ObservePriceEvent() {
	if priceEventsTotal != nil {
		priceEventsTotal.Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
