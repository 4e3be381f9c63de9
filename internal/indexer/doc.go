// Package indexer keeps the catalog in sync with the media directory:
// periodic parallel scans, ffprobe metadata extraction for new videos,
// and cleanup of rows and thumbnails for vanished files.
package indexer
