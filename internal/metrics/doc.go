// Package metrics defines the Prometheus metrics exported by the media
// server. Metrics are registered via promauto at package load; handlers
// and background components record into them directly.
package metrics
