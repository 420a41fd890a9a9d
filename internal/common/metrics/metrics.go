// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	QuestionsPlanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_questions_total",
			Help: "Questions classified, by intent and chosen data source",
		},
		[]string{"intent", "data_source"},
	)

	BackoffRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoff_retries_total",
			Help: "Retries scheduled after a rate-limit style failure",
		},
		[]string{"operation"},
	)

	PaginationPages = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paginate_pages_fetched",
			Help:    "Non-empty pages fetched per pagination run",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	BulkExportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_export_runs_total",
			Help: "Bulk export refresh runs by outcome",
		},
		[]string{"status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP API request duration in seconds",
		},
		[]string{"route", "method", "status"},
	)
)
