// Package hls implements the on-demand HLS transcode engine: bounded
// admission of ffmpeg jobs, per-pair segment cache tracking with
// blocking segment waits, playlist generation, and orphan cache
// reaping.
//
// A cache is keyed by (media ID, quality). At most one job runs per
// pair at a time; a completed pair is marked by an atomically written
// manifest and served straight from disk afterwards.
package hls
