package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitesearch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitesearch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	PagesVisited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitesearch_pages_visited_total",
			Help: "Pages fetched by the crawler, by HTTP status class.",
		},
		[]string{"class"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitesearch_fetch_errors_total",
			Help: "Fetch errors by kind.",
		},
		[]string{"kind"},
	)

	SitesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitesearch_sites_finished_total",
			Help: "Site crawls that reached a terminal status.",
		},
		[]string{"status"},
	)

	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitesearch_crawl_duration_seconds",
			Help:    "Duration of whole-site crawls.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"site"},
	)

	IndexingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitesearch_indexing_active",
			Help: "1 while a crawl run is in progress.",
		},
	)

	IndexCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitesearch_index_commits_total",
			Help: "Accumulator flushes, by outcome.",
		},
		[]string{"outcome"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitesearch_search_duration_seconds",
			Help:    "Duration of search queries.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// StatusClass buckets an HTTP status code as "2xx", "4xx" and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return string(rune('0'+code/100)) + "xx"
}
