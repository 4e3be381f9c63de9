// Package handlers contains the HTTP handlers for the media server
// API: streaming (HLS segments and playlists), catalog browsing,
// thumbnails, tags, search, authentication, and health checks.
package handlers
