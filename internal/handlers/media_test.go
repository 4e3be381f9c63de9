package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"media-server/internal/database"
	"media-server/internal/mediatypes"
)

func TestListLibraries(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	ha.seedVideo(t, "movie.mp4", 20)

	rec := httptest.NewRecorder()
	ha.h.ListLibraries(rec, httptest.NewRequest(http.MethodGet, "/api/libraries", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var libraries []database.Library
	if err := json.NewDecoder(rec.Body).Decode(&libraries); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(libraries) != 1 {
		t.Fatalf("got %d libraries, want 1", len(libraries))
	}
	if libraries[0].ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", libraries[0].ItemCount)
	}
}

func TestGetLibraryListing(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	item := ha.seedVideo(t, "movie.mp4", 20)

	req := httptest.NewRequest(http.MethodGet, "/api/libraries/listing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.LibraryID)})
	rec := httptest.NewRecorder()
	ha.h.GetLibraryListing(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var listing database.LibraryListing
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(listing.Items))
	}
	if listing.Items[0].ThumbnailURL == "" {
		t.Error("expected thumbnail URL to be filled in")
	}
}

func TestGetLibraryListingUnknown(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	req := httptest.NewRequest(http.MethodGet, "/api/libraries/listing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "424242"})
	rec := httptest.NewRecorder()
	ha.h.GetLibraryListing(rec, req)

	// Access checks fail closed on unknown libraries.
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGetMediaWithTags(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	item := ha.seedVideo(t, "movie.mp4", 20)

	tag, err := ha.db.CreateTag(context.Background(), "favorites", "")
	if err != nil {
		t.Fatalf("CreateTag() failed: %v", err)
	}
	if err := ha.db.TagMedia(context.Background(), item.ID, tag.ID); err != nil {
		t.Fatalf("TagMedia() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/media/detail", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID)})
	rec := httptest.NewRecorder()
	ha.h.GetMedia(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got database.MediaItem
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "favorites" {
		t.Errorf("Tags = %v, want [favorites]", got.Tags)
	}
}

func TestGetMediaNotFound(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	req := httptest.NewRequest(http.MethodGet, "/api/media/detail", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "99999"})
	rec := httptest.NewRecorder()
	ha.h.GetMedia(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetFileServesRangeRequests(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	item := ha.seedVideo(t, "movie.mp4", 20)

	req := httptest.NewRequest(http.MethodGet, "/api/media/file", nil)
	req.Header.Set("Range", "bytes=0-4")
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID)})
	rec := httptest.NewRecorder()
	ha.h.GetFile(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Body.String(); got != "sourc" {
		t.Errorf("body = %q, want first 5 bytes of source", got)
	}
}

func TestGetThumbnailForImage(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	item := ha.seed(t, "photo.png", mediatypes.TypeImage, 0)

	// Replace the placeholder bytes with a real decodable image,
	// since the generator decodes it.
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	if err := os.WriteFile(item.Path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/thumbnail/get", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID)})
	rec := httptest.NewRecorder()
	ha.h.GetThumbnail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected thumbnail bytes")
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	rec := httptest.NewRecorder()
	ha.h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchFindsMedia(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	ha.seedVideo(t, "vacation-beach.mp4", 20)
	ha.seedVideo(t, "conference-talk.mp4", 20)

	rec := httptest.NewRecorder()
	ha.h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=beach", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result database.SearchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("got %d results, want 1", len(result.Items))
	}
	if !strings.Contains(result.Items[0].Name, "beach") {
		t.Errorf("unexpected result %q", result.Items[0].Name)
	}
}

func TestTagEndpoints(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	item := ha.seedVideo(t, "movie.mp4", 20)

	// Create.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tags", strings.NewReader(`{"name":"holiday"}`))
	ha.h.CreateTag(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("CreateTag status = %d: %s", rec.Code, rec.Body.String())
	}
	var tag database.Tag
	if err := json.NewDecoder(rec.Body).Decode(&tag); err != nil {
		t.Fatalf("failed to decode tag: %v", err)
	}

	// Attach.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/media/tags", strings.NewReader(`{"tagId":`+itoa(tag.ID)+`}`))
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID)})
	ha.h.TagMedia(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("TagMedia status = %d", rec.Code)
	}

	// Query by tag.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tags/media", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(tag.ID)})
	ha.h.GetMediaByTag(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetMediaByTag status = %d", rec.Code)
	}
	var items []database.MediaItem
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Errorf("tagged items = %v, want the seeded video", items)
	}

	// Detach.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/media/tags", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID), "tagId": itoa(tag.ID)})
	ha.h.UntagMedia(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("UntagMedia status = %d", rec.Code)
	}

	// Detaching again reports not found.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/media/tags", nil)
	req = mux.SetURLVars(req, map[string]string{"id": itoa(item.ID), "tagId": itoa(tag.ID)})
	ha.h.UntagMedia(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second UntagMedia status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	// Before any index run the service reports starting.
	rec := httptest.NewRecorder()
	ha.h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("HealthCheck status = %d, want 503 before first index", rec.Code)
	}

	rec = httptest.NewRecorder()
	ha.h.LivenessCheck(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("LivenessCheck status = %d, want 200", rec.Code)
	}

	// After an index run, ready.
	if err := ha.h.indexer.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}

	rec = httptest.NewRecorder()
	ha.h.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ReadinessCheck status = %d, want 200 after index", rec.Code)
	}
}

func TestGetVersion(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})

	rec := httptest.NewRecorder()
	ha.h.GetVersion(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "version") {
		t.Errorf("version body = %s", rec.Body.String())
	}
}

func TestTriggerIndex(t *testing.T) {
	ha := newHarness(t, &instantAdapter{})
	ha.seedVideo(t, "movie.mp4", 20)

	rec := httptest.NewRecorder()
	ha.h.TriggerIndex(rec, httptest.NewRequest(http.MethodPost, "/api/index", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "started") && !strings.Contains(rec.Body.String(), "already_running") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
