// Package metrics holds the Prometheus collectors for crawling and reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed HTTP calls partitioned by endpoint (list|detail) and outcome
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_feed_requests_total",
			Help: "Remote feed requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_feed_request_duration_seconds",
			Help:    "Remote feed request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Feed records by disposition (new|changed|unchanged|rejected|failed)
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_items_processed_total",
			Help: "Feed records processed by disposition",
		},
		[]string{"disposition"},
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_pages_fetched_total",
			Help: "Feed pages fetched successfully",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_rate_limited_total",
			Help: "Feed responses that signalled rate limiting",
		},
	)

	// Crawl runs by terminal status
	CrawlRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_crawl_runs_total",
			Help: "Crawl runs by terminal status",
		},
		[]string{"status"},
	)

	CrawlRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_crawl_running",
			Help: "1 while a crawl is active",
		},
	)

	ListingsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_listings_removed_total",
			Help: "Listings deleted after a validity re-check",
		},
	)

	// Price drop notifications by result (sent|failed|skipped)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_notifications_total",
			Help: "Price drop notifications by result",
		},
		[]string{"result"},
	)
)
