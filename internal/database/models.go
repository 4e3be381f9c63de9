package database

import (
	"time"

	"media-server/internal/mediatypes"
)

// Library is a registered media root directory.
type Library struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	ItemCount int       `json:"itemCount,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MediaItem is a single indexed media file.
type MediaItem struct {
	ID           int64               `json:"id"`
	LibraryID    int64               `json:"libraryId"`
	Name         string              `json:"name"`
	Path         string              `json:"path"`
	Type         mediatypes.MediaType `json:"type"`
	Size         int64               `json:"size"`
	ModTime      time.Time           `json:"modTime"`
	Duration     float64             `json:"duration,omitempty"`
	Codec        string              `json:"codec,omitempty"`
	Width        int                 `json:"width,omitempty"`
	Height       int                 `json:"height,omitempty"`
	ThumbnailURL string              `json:"thumbnailUrl,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
}

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	ItemCount int       `json:"itemCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type LibraryListing struct {
	Library    Library     `json:"library"`
	Items      []MediaItem `json:"items"`
	TotalItems int         `json:"totalItems"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

type SearchResult struct {
	Items      []MediaItem `json:"items"`
	Query      string      `json:"query"`
	TotalItems int         `json:"totalItems"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// IndexStats holds summary statistics from the most recent index run.
type IndexStats struct {
	TotalItems   int       `json:"totalItems"`
	TotalVideos  int       `json:"totalVideos"`
	TotalImages  int       `json:"totalImages"`
	TotalSize    int64     `json:"totalSize"`
	LastIndexed  time.Time `json:"lastIndexed"`
	IndexRunning bool      `json:"indexRunning"`
}
