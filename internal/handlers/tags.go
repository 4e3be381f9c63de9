package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-server/internal/database"
	"media-server/internal/logging"
)

// ListTags returns all tags with item counts.
// GET /api/tags
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.db.ListTags(r.Context())
	if err != nil {
		logging.Error("Failed to list tags: %v", err)
		http.Error(w, "Failed to list tags", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, tags)
}

// CreateTag creates a tag, or returns the existing one by name.
// POST /api/tags
func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Tag name is required", http.StatusBadRequest)
		return
	}

	tag, err := h.db.CreateTag(r.Context(), req.Name, req.Color)
	if err != nil {
		logging.Error("Failed to create tag %q: %v", req.Name, err)
		http.Error(w, "Failed to create tag", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, tag)
}

// DeleteTag removes a tag and its media associations.
// DELETE /api/tags/{id}
func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid tag ID", http.StatusBadRequest)
		return
	}

	if err := h.db.DeleteTag(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Tag not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to delete tag %d: %v", id, err)
		http.Error(w, "Failed to delete tag", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, "deleted")
}

// TagMedia attaches a tag to a media item.
// POST /api/media/{id}/tags
func (h *Handlers) TagMedia(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolveMedia(w, r)
	if !ok {
		return
	}

	var req struct {
		TagID int64 `json:"tagId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TagID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.TagMedia(r.Context(), item.ID, req.TagID); err != nil {
		logging.Error("Failed to tag media %d with tag %d: %v", item.ID, req.TagID, err)
		http.Error(w, "Failed to tag media", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, "tagged")
}

// UntagMedia removes a tag from a media item.
// DELETE /api/media/{id}/tags/{tagId}
func (h *Handlers) UntagMedia(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolveMedia(w, r)
	if !ok {
		return
	}

	tagID, err := strconv.ParseInt(mux.Vars(r)["tagId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid tag ID", http.StatusBadRequest)
		return
	}

	if err := h.db.UntagMedia(r.Context(), item.ID, tagID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Tag association not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to untag media %d: %v", item.ID, err)
		http.Error(w, "Failed to untag media", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, "untagged")
}

// GetMediaByTag returns all media carrying a tag.
// GET /api/tags/{id}/media
func (h *Handlers) GetMediaByTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid tag ID", http.StatusBadRequest)
		return
	}

	items, err := h.db.MediaByTag(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Tag not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to list media for tag %d: %v", id, err)
		http.Error(w, "Failed to list media", http.StatusInternalServerError)
		return
	}

	for i := range items {
		fillMediaURLs(&items[i])
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, items)
}
