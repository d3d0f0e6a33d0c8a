// Package metrics holds the Prometheus collectors for the newspaper API.
//
// Collectors register with the default registry at init and are exposed on
// /metrics by the HTTP server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by route pattern and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newspaper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// ThemesCreated counts theme rows inserted by the registry.
	ThemesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newspaper_themes_created_total",
			Help: "Total number of themes created",
		},
	)

	// LikeToggles counts like toggles by direction (like or unlike).
	LikeToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newspaper_like_toggles_total",
			Help: "Total number of like toggles",
		},
		[]string{"direction"},
	)

	// FeedRequests counts curated feed requests by viewer kind.
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newspaper_feed_requests_total",
			Help: "Total number of feed requests",
		},
		[]string{"viewer"},
	)

	// FeedArticlesReturned observes the size of each curated feed.
	FeedArticlesReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newspaper_feed_articles_returned",
			Help:    "Number of articles returned per feed request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	// ArticleEvents counts lifecycle events published to the bus.
	ArticleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newspaper_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"topic", "outcome"},
	)

	// SearchBackendState mirrors the Meilisearch circuit breaker (0 closed, 1 half-open, 2 open).
	SearchBackendState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newspaper_search_breaker_state",
			Help: "Meilisearch circuit breaker state",
		},
	)
)

// ObserveHTTPRequest records one finished request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordLikeToggle records a like (liked=true) or an unlike.
func RecordLikeToggle(liked bool) {
	direction := "unlike"
	if liked {
		direction = "like"
	}
	LikeToggles.WithLabelValues(direction).Inc()
}

// RecordFeed records one feed request and its result size.
func RecordFeed(authenticated bool, returned int) {
	viewer := "anonymous"
	if authenticated {
		viewer = "authenticated"
	}
	FeedRequests.WithLabelValues(viewer).Inc()
	FeedArticlesReturned.Observe(float64(returned))
}
