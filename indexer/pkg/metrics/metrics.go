package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insights_build_info",
			Help: "Build information of the insights binaries",
		},
		[]string{"version", "commit", "date"},
	)

	StrategyRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_strategy_runs_total",
			Help: "Total number of strategy executions",
		},
		[]string{"strategy", "status"},
	)

	StrategyRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_strategy_run_duration_seconds",
			Help:    "Duration of a strategy execution including embedding and storage",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27 minutes
		},
		[]string{"strategy"},
	)

	GroupsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_groups_processed_total",
			Help: "Total number of aggregate groups rendered and embedded",
		},
		[]string{"strategy"},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
		},
		[]string{"operation"},
	)

	EmbeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_embedding_requests_total",
			Help: "Total number of embedding provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_embedding_request_duration_seconds",
			Help:    "Duration of embedding provider requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_embedding_tokens_total",
			Help: "Total number of tokens billed by the embedding provider",
		},
		[]string{"provider", "model"},
	)

	EmbeddingRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_embedding_retries_total",
			Help: "Total number of retried embedding requests",
		},
		[]string{"provider", "model"},
	)

	RecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_records_written_total",
			Help: "Total number of embedding records written",
		},
		[]string{"table"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_search_requests_total",
			Help: "Total number of similarity searches",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insights_search_duration_seconds",
			Help:    "Duration of similarity searches including query embedding",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

// ObserveQuery records the outcome and latency of one database operation.
func ObserveQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
