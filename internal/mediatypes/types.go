package mediatypes

import (
	"path/filepath"
	"strings"
)

// MediaType classifies a catalog entry by what it holds.
type MediaType string

const (
	TypeVideo MediaType = "video"
	TypeImage MediaType = "image"
	TypeOther MediaType = "other"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true, ".avif": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".mpeg": true, ".mpg": true, ".3gp": true, ".ts": true,
}

// FromPath classifies a file by its extension.
func FromPath(path string) MediaType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return TypeImage
	case videoExts[ext]:
		return TypeVideo
	default:
		return TypeOther
	}
}

// IsVideo reports whether path has a recognized video extension.
func IsVideo(path string) bool {
	return FromPath(path) == TypeVideo
}

// IsImage reports whether path has a recognized image extension.
func IsImage(path string) bool {
	return FromPath(path) == TypeImage
}

// MimeFor returns the MIME type to serve for a media file, falling back
// to application/octet-stream for unknown extensions.
func MimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
