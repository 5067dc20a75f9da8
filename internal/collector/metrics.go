package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for search extraction.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repo_search_requests_total",
		Help: "Total search requests by outcome",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repo_search_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	searchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repo_search_retries_total",
		Help: "Total number of retried search requests by error class",
	}, []string{"error_class"})

	searchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repo_search_retry_exhausted_total",
		Help: "Total number of pages that failed after all attempts by error class",
	}, []string{"error_class"})

	governorWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repo_governor_wait_seconds",
		Help:    "Time spent waiting for the rate governor",
		Buckets: []float64{0, 0.5, 1, 2, 2.5, 5, 30, 60},
	})

	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repo_partitions_total",
		Help: "Total partitions walked by audit status",
	}, []string{"status"})

	recordsRetrievedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repo_records_retrieved_total",
		Help: "Total repository records retrieved from search",
	})
)
