package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"media-server/internal/database"
	"media-server/internal/hls"
	"media-server/internal/logging"
	"media-server/internal/mediatypes"
	"media-server/internal/streaming"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"

	// Segment names encode their index, so segment bytes never change
	// for a given URL and can be cached forever.
	immutableCacheControl = "public, max-age=31536000, immutable"

	// Number of leading segments prepared before a VOD playlist is
	// returned, so playback starts without an immediate stall.
	pregenerateSegments = 3
)

// resolveVideo parses the {id} and {quality} route variables and loads
// the media row. It writes the error response itself and returns false
// when the request cannot proceed.
func (h *Handlers) resolveVideo(w http.ResponseWriter, r *http.Request) (*database.MediaItem, hls.Quality, bool) {
	if !h.transcoding {
		http.Error(w, "Transcoding is disabled", http.StatusServiceUnavailable)
		return nil, "", false
	}

	vars := mux.Vars(r)

	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return nil, "", false
	}

	quality, err := hls.ParseQuality(vars["quality"])
	if err != nil {
		http.Error(w, "Invalid quality", http.StatusBadRequest)
		return nil, "", false
	}

	item, err := h.db.GetMediaByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Media not found", http.StatusNotFound)
		} else {
			logging.Error("Failed to load media %d: %v", id, err)
			http.Error(w, "Failed to load media", http.StatusInternalServerError)
		}
		return nil, "", false
	}

	if item.Type != mediatypes.TypeVideo {
		http.Error(w, "Media is not a video", http.StatusBadRequest)
		return nil, "", false
	}

	if _, err := os.Stat(item.Path); err != nil {
		logging.Warn("Source file missing for media %d: %s", item.ID, item.Path)
		http.Error(w, "Source file not found", http.StatusNotFound)
		return nil, "", false
	}

	if !h.requireLibraryAccess(w, r, item.LibraryID) {
		return nil, "", false
	}

	return item, quality, true
}

// GetHLSSegment serves one transcoded segment, transcoding on demand.
// GET /api/hls/{id}/{quality}/{segment}
func (h *Handlers) GetHLSSegment(w http.ResponseWriter, r *http.Request) {
	item, quality, ok := h.resolveVideo(w, r)
	if !ok {
		return
	}

	index, err := hls.ParseSegmentName(mux.Vars(r)["segment"])
	if err != nil {
		http.Error(w, "Invalid segment name", http.StatusBadRequest)
		return
	}

	path, err := h.engine.RequestSegment(r.Context(), item.ID, quality, index, item.Path, item.Duration)
	if err != nil {
		h.writeSegmentError(w, item.ID, quality, index, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		logging.Error("Failed to open segment %s: %v", path, err)
		http.Error(w, "Failed to read segment", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to read segment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Cache-Control", immutableCacheControl)

	if err := streaming.Copy(r.Context(), w, f, streaming.DefaultConfig()); err != nil {
		logging.Debug("Segment stream ended early for media %d %s #%d: %v", item.ID, quality, index, err)
	}
}

// writeSegmentError maps engine errors onto HTTP status codes. Capacity
// and timeout conditions are expected under load and return 503 so
// players retry; they are never cached.
func (h *Handlers) writeSegmentError(w http.ResponseWriter, mediaID int64, quality hls.Quality, index int, err error) {
	switch {
	case errors.Is(err, hls.ErrSegmentOutOfRange):
		http.Error(w, "Segment out of range", http.StatusNotFound)
	case errors.Is(err, hls.ErrCapacity), errors.Is(err, hls.ErrWaitTimeout),
		errors.Is(err, hls.ErrJobFailed), errors.Is(err, hls.ErrShutdown):
		logging.Warn("Segment unavailable for media %d %s #%d: %v", mediaID, quality, index, err)
		w.Header().Set("Retry-After", "2")
		http.Error(w, "Transcoder busy, retry shortly", http.StatusServiceUnavailable)
	default:
		logging.Error("Segment request failed for media %d %s #%d: %v", mediaID, quality, index, err)
		http.Error(w, "Failed to produce segment", http.StatusInternalServerError)
	}
}

// GetHLSPlaylist serves the full VOD playlist. The playlist is computed
// from the probed duration, so it can be returned before any segment
// exists; segments resolve lazily through GetHLSSegment.
// GET /api/hls/{id}/{quality}/playlist.m3u8
func (h *Handlers) GetHLSPlaylist(w http.ResponseWriter, r *http.Request) {
	item, quality, ok := h.resolveVideo(w, r)
	if !ok {
		return
	}

	if item.Duration <= 0 {
		http.Error(w, "Media duration not yet available", http.StatusBadRequest)
		return
	}

	// Warm the first few segments so playback starts cleanly.
	err := h.engine.PregenerateInitial(r.Context(), item.ID, quality, item.Path, item.Duration, pregenerateSegments)
	if err != nil {
		h.writeSegmentError(w, item.ID, quality, 0, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", immutableCacheControl)
	fmt.Fprint(w, hls.VodPlaylist(item.Duration))
}

// GetHLSLivePlaylist serves a playlist that grows as segments become
// ready. It starts generation if no job is active.
// GET /api/hls/{id}/{quality}/live.m3u8
func (h *Handlers) GetHLSLivePlaylist(w http.ResponseWriter, r *http.Request) {
	item, quality, ok := h.resolveVideo(w, r)
	if !ok {
		return
	}

	// Unlike the VOD playlist, no duration is needed here: the partial
	// playlist only lists segments that already exist, so a video whose
	// probe failed can still be streamed.
	if err := h.engine.StartGeneration(r.Context(), item.ID, quality, item.Path, item.Duration); err != nil {
		if errors.Is(err, hls.ErrCapacity) || errors.Is(err, hls.ErrShutdown) {
			w.Header().Set("Retry-After", "2")
			http.Error(w, "Transcoder busy, retry shortly", http.StatusServiceUnavailable)
			return
		}
		logging.Error("Failed to start generation for media %d %s: %v", item.ID, quality, err)
		http.Error(w, "Failed to start transcoding", http.StatusInternalServerError)
		return
	}

	body, err := h.engine.Playlist(item.ID, quality)
	if err != nil {
		// Job admitted but nothing published yet. Hand back a
		// header-only playlist so players poll again.
		body = hls.LivePlaylist(0, false)
	}

	w.Header().Set("Content-Type", playlistContentType)
	if strings.Contains(body, "#EXT-X-ENDLIST") {
		w.Header().Set("Cache-Control", immutableCacheControl)
	} else {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Retry-After", "2")
	}
	fmt.Fprint(w, body)
}

// GetHLSStatus reports the transcode state for one media/quality pair.
// GET /api/hls/{id}/{quality}/status
func (h *Handlers) GetHLSStatus(w http.ResponseWriter, r *http.Request) {
	item, quality, ok := h.resolveVideo(w, r)
	if !ok {
		return
	}

	state, ready, active := h.engine.Status(item.ID, quality)

	response := map[string]interface{}{
		"mediaId": item.ID,
		"quality": string(quality),
		"cached":  h.engine.HasCache(item.ID, quality),
	}
	if active {
		response["state"] = string(state)
		response["readySegments"] = ready
	}
	if item.Duration > 0 {
		response["totalSegments"] = hls.SegmentCount(item.Duration)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, response)
}

// ClearHLSCache removes all cached renditions for one media item.
// POST /api/hls/{id}/clear
func (h *Handlers) ClearHLSCache(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return
	}

	if err := h.engine.ClearCache(id); err != nil {
		logging.Error("Failed to clear HLS cache for media %d: %v", id, err)
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}

	logging.Info("HLS cache cleared for media %d", id)
	writeJSONStatus(w, "cleared")
}
