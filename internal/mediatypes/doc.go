// Package mediatypes classifies media files by extension and maps them
// to MIME types. Shared by the indexer, thumbnailer and HTTP handlers.
package mediatypes
