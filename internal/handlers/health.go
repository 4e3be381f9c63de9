package handlers

import (
	"net/http"
	"runtime"

	"media-server/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Ready       bool   `json:"ready"`
	Version     string `json:"version"`
	Indexing    bool   `json:"indexing"`
	LastIndexed string `json:"lastIndexed,omitempty"`

	ActiveTranscodeJobs int `json:"activeTranscodeJobs"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Stats summary
	TotalItems  int   `json:"totalItems,omitempty"`
	TotalVideos int   `json:"totalVideos,omitempty"`
	TotalSize   int64 `json:"totalSize,omitempty"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	stats := h.db.GetStats()
	ready := !stats.LastIndexed.IsZero()

	response := HealthResponse{
		Ready:               ready,
		Version:             startup.Version,
		Indexing:            h.indexer.IsRunning(),
		ActiveTranscodeJobs: h.engine.ActiveJobs(),
		GoVersion:           runtime.Version(),
		NumCPU:              runtime.NumCPU(),
		NumGoroutine:        runtime.NumGoroutine(),
		TotalItems:          stats.TotalItems,
		TotalVideos:         stats.TotalVideos,
		TotalSize:           stats.TotalSize,
	}

	if ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}
	if !stats.LastIndexed.IsZero() {
		response.LastIndexed = stats.LastIndexed.Format("2006-01-02T15:04:05Z07:00")
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 only once the first index run has
// completed and the catalog can serve traffic
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.db.GetStats().LastIndexed.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}
