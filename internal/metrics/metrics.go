package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_server_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// HLS engine metrics
var (
	HLSJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_hls_jobs_total",
			Help: "Total number of HLS transcode jobs by terminal state",
		},
		[]string{"quality", "state"}, // state: "complete", "failed", "stalled"
	)

	HLSJobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_hls_jobs_running",
			Help: "Number of HLS transcode jobs currently running",
		},
	)

	HLSAdmissionRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_hls_admission_rejects_total",
			Help: "Start requests rejected because all transcode slots were busy",
		},
	)

	HLSSegmentsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_hls_segments_generated_total",
			Help: "Total number of HLS segments published",
		},
		[]string{"quality"},
	)

	HLSSegmentWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_server_hls_segment_wait_seconds",
			Help:    "Time callers spent waiting for a requested segment",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	HLSSegmentWaitTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_hls_segment_wait_timeouts_total",
			Help: "Segment waits that gave up before the segment was published",
		},
	)

	HLSCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_hls_cache_hits_total",
			Help: "Segment requests served directly from the on-disk cache",
		},
	)

	HLSCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_hls_cache_misses_total",
			Help: "Segment requests that required waiting on a transcode job",
		},
	)
)

// Orphan reaper metrics
var (
	ReaperSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_reaper_sweeps_total",
			Help: "Total number of orphan cache sweeps",
		},
	)

	ReaperOrphansRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_reaper_orphans_removed_total",
			Help: "Cache entries removed because their media row no longer exists",
		},
		[]string{"kind"}, // "hls", "thumbnail"
	)

	ReaperBytesFreed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_reaper_bytes_freed_total",
			Help: "Bytes freed by orphan cache sweeps",
		},
	)

	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_server_reaper_sweep_duration_seconds",
			Help:    "Duration of orphan cache sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_server_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Indexer metrics
var (
	IndexerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_indexer_runs_total",
			Help: "Total number of library scans",
		},
	)

	IndexerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_indexer_last_run_duration_seconds",
			Help: "Duration of the last library scan in seconds",
		},
	)

	IndexerFilesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_indexer_files_seen_total",
			Help: "Total number of media files seen by the indexer",
		},
	)

	IndexerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_indexer_errors_total",
			Help: "Total number of indexer errors",
		},
	)

	IndexerIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_indexer_running",
			Help: "Whether a library scan is currently running (1 = running)",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail cache hits",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_server_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)
)

// Authentication metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_server_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"status"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_server_active_sessions",
			Help: "Number of active user sessions",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_server_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
