// Package metrics defines the Prometheus collectors exposed by the client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Remote client metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishdash_api_requests_total",
			Help: "Total number of requests to the analysis service",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fishdash_api_request_duration_seconds",
			Help:    "Analysis service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fishdash_upload_bytes_total",
			Help: "Total number of bytes uploaded to the analysis service",
		},
	)
)

// Orchestrator metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishdash_jobs_total",
			Help: "Total number of batch jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fishdash_job_retries_total",
			Help: "Total number of automatic job retries",
		},
	)

	JobStage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fishdash_job_stage",
			Help: "Current job stage (0=idle 1=uploading 2=analyzing 3=completed 4=failed)",
		},
	)

	PollIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fishdash_poll_iterations_total",
			Help: "Total number of analysis progress polls issued",
		},
	)
)

// Thumbnail pipeline metrics
var (
	ThumbnailsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishdash_thumbnails_generated_total",
			Help: "Total number of thumbnail generation attempts",
		},
		[]string{"status"},
	)

	ThumbnailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fishdash_thumbnail_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	ThumbnailsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fishdash_thumbnails_in_flight",
			Help: "Number of thumbnail generations currently running",
		},
	)
)

// Resource tracker metrics
var (
	TrackedResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fishdash_tracked_resources",
			Help: "Number of currently tracked derived resources",
		},
		[]string{"kind"},
	)

	TrackedResourceBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fishdash_tracked_resource_bytes",
			Help: "Bytes held by currently tracked derived resources",
		},
		[]string{"kind"},
	)

	ResourcesReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishdash_resources_reclaimed_total",
			Help: "Total number of resources reclaimed",
		},
		[]string{"reason"},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fishdash_memory_usage_ratio",
			Help: "Heap usage as a fraction of the configured limit",
		},
	)

	MemoryPressureEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fishdash_memory_pressure_events_total",
			Help: "Total number of memory pressure cleanups triggered",
		},
	)
)

// History store metrics
var (
	HistoryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fishdash_history_writes_total",
			Help: "Total number of history store writes",
		},
		[]string{"status"},
	)
)
