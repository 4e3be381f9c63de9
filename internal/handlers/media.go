package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"media-server/internal/database"
	"media-server/internal/logging"
	"media-server/internal/mediatypes"
)

// requireLibraryAccess verifies the request may touch the given
// library. Access checks fail closed: any lookup error denies.
func (h *Handlers) requireLibraryAccess(w http.ResponseWriter, r *http.Request, libraryID int64) bool {
	if _, err := h.db.GetLibrary(r.Context(), libraryID); err != nil {
		logging.Warn("Library access denied for library %d: %v", libraryID, err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// ListLibraries returns all registered libraries with item counts.
// GET /api/libraries
func (h *Handlers) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libraries, err := h.db.ListLibraries(r.Context())
	if err != nil {
		logging.Error("Failed to list libraries: %v", err)
		http.Error(w, "Failed to list libraries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, libraries)
}

// GetLibraryListing returns one page of a library's media.
// GET /api/libraries/{id}
func (h *Handlers) GetLibraryListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid library ID", http.StatusBadRequest)
		return
	}

	if !h.requireLibraryAccess(w, r, id) {
		return
	}

	page, pageSize := paging(r)
	listing, err := h.db.ListMediaByLibrary(r.Context(), id, page, pageSize)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Library not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to list library %d: %v", id, err)
		http.Error(w, "Failed to list library", http.StatusInternalServerError)
		return
	}

	for i := range listing.Items {
		fillMediaURLs(&listing.Items[i])
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, listing)
}

// GetMedia returns one media item with its tags.
// GET /api/media/{id}
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolveMedia(w, r)
	if !ok {
		return
	}

	tags, err := h.db.MediaTags(r.Context(), item.ID)
	if err != nil {
		logging.Warn("Failed to load tags for media %d: %v", item.ID, err)
	} else {
		item.Tags = tags
	}
	fillMediaURLs(item)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, item)
}

// GetFile serves the original media file directly.
// GET /api/media/{id}/file
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolveMedia(w, r)
	if !ok {
		return
	}

	f, err := os.Open(item.Path)
	if err != nil {
		logging.Warn("Source file missing for media %d: %s", item.ID, item.Path)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mediatypes.MimeFor(item.Path))
	// ServeContent handles range requests, which video elements need
	// for seeking during direct playback.
	http.ServeContent(w, r, item.Name, item.ModTime, f)
}

// GetThumbnail serves a cached thumbnail, generating it on first
// request. GET /api/thumbnail/{id}
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolveMedia(w, r)
	if !ok {
		return
	}

	if !h.thumbGen.IsEnabled() {
		http.Error(w, "Thumbnails disabled", http.StatusServiceUnavailable)
		return
	}

	data, err := h.thumbGen.GetThumbnail(item.Path, item.Type)
	if err != nil {
		logging.Warn("Failed to generate thumbnail for media %d: %v", item.ID, err)
		http.Error(w, "Failed to generate thumbnail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(data); err != nil {
		logging.Debug("Thumbnail write failed for media %d: %v", item.ID, err)
	}
}

// Search runs a full-text search over the catalog.
// GET /api/search?q=...
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "Query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	page, pageSize := paging(r)
	result, err := h.db.SearchMedia(r.Context(), query, page, pageSize)
	if err != nil {
		logging.Error("Search failed for %q: %v", query, err)
		http.Error(w, "Search failed", http.StatusInternalServerError)
		return
	}

	for i := range result.Items {
		fillMediaURLs(&result.Items[i])
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

// GetStats returns catalog statistics from the most recent index run.
// GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.db.GetStats()
	stats.IndexRunning = h.indexer.IsRunning()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats)
}

// TriggerIndex starts an index run in the background.
// POST /api/index
func (h *Handlers) TriggerIndex(w http.ResponseWriter, r *http.Request) {
	if h.indexer.IsRunning() {
		writeJSONStatus(w, "already_running")
		return
	}

	// The run outlives the request, so don't tie it to r.Context().
	go func() {
		if err := h.indexer.RunOnce(context.Background()); err != nil {
			logging.Error("Manual index run failed: %v", err)
		}
	}()

	writeJSONStatus(w, "started")
}

// resolveMedia loads the media row for the {id} route variable and
// checks library access. Writes the error response itself.
func (h *Handlers) resolveMedia(w http.ResponseWriter, r *http.Request) (*database.MediaItem, bool) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return nil, false
	}

	item, err := h.db.GetMediaByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Media not found", http.StatusNotFound)
		} else {
			logging.Error("Failed to load media %d: %v", id, err)
			http.Error(w, "Failed to load media", http.StatusInternalServerError)
		}
		return nil, false
	}

	if !h.requireLibraryAccess(w, r, item.LibraryID) {
		return nil, false
	}

	return item, true
}

func fillMediaURLs(item *database.MediaItem) {
	item.ThumbnailURL = fmt.Sprintf("/api/thumbnail/%d", item.ID)
}
