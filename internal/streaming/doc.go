// Package streaming provides timeout-protected writers for serving
// media bytes to HTTP clients.
package streaming
