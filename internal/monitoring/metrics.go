package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks finished queue jobs by terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_jobs_total",
			Help: "Total number of finished acquisition jobs",
		},
		[]string{"status"},
	)

	// JobDuration tracks job processing time in seconds
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunevault_job_duration_seconds",
			Help:    "Acquisition job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"kind"},
	)

	// PendingJobs tracks jobs waiting across all owner queues
	PendingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunevault_pending_jobs",
			Help: "Number of pending jobs across all owners",
		},
	)

	// ActiveOwners tracks owners with a job in progress
	ActiveOwners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunevault_active_owners",
			Help: "Number of owners with a downloading job",
		},
	)

	// TracksIngestedTotal counts tracks by ingest outcome
	TracksIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_tracks_ingested_total",
			Help: "Tracks processed at ingest time",
		},
		[]string{"outcome"}, // stored, duplicate
	)

	// SplitTracksTotal counts tracks produced by album splits
	SplitTracksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunevault_split_tracks_total",
			Help: "Tracks produced by splitting album downloads",
		},
	)

	// ToolDuration tracks external tool run time
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunevault_tool_duration_seconds",
			Help:    "External tool invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"tool", "status"},
	)

	// FingerprintLookupsTotal counts fingerprint identifications by outcome
	FingerprintLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_fingerprint_lookups_total",
			Help: "Fingerprint lookups by outcome",
		},
		[]string{"outcome"}, // match, low_score, no_result, error
	)

	// EnrichmentsTotal counts enrichment runs by winning source
	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_enrichments_total",
			Help: "Metadata enrichment runs by resolved source",
		},
		[]string{"source"},
	)

	// APIRequestsTotal tracks API requests by endpoint and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks API request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunevault_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunevault_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordJobStart records a job entering the downloading state
func RecordJobStart() {
	ActiveOwners.Inc()
}

// RecordJobFinished records a terminal job outcome
func RecordJobFinished(status, kind string, duration time.Duration) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	ActiveOwners.Dec()
}

// UpdatePendingJobs updates the pending job gauge
func UpdatePendingJobs(n int) {
	PendingJobs.Set(float64(n))
}

// RecordTrackIngested records one track outcome at ingest
func RecordTrackIngested(outcome string) {
	TracksIngestedTotal.WithLabelValues(outcome).Inc()
}

// RecordSplit records the number of tracks an album split produced
func RecordSplit(tracks int) {
	SplitTracksTotal.Add(float64(tracks))
}

// RecordTool records an external tool run
func RecordTool(tool string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ToolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// RecordFingerprint records a fingerprint lookup outcome
func RecordFingerprint(outcome string) {
	FingerprintLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordEnrichment records which source won an enrichment run
func RecordEnrichment(source string) {
	EnrichmentsTotal.WithLabelValues(source).Inc()
}

// RecordAPIRequest records an API request
func RecordAPIRequest(endpoint string, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
