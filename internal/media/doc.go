// Package media generates thumbnails for images and video files,
// preferring libvips for memory-efficient image decoding with pure-Go
// and ffmpeg fallbacks.
package media
