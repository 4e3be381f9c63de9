package media

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"media-server/internal/logging"
	"media-server/internal/mediatypes"
	"media-server/internal/metrics"
)

const (
	thumbWidth  = 200
	thumbHeight = 200
	jpegQuality = 80
)

// ThumbnailGenerator produces and caches 200x200 JPEG thumbnails for
// images and videos. Image sources go through libvips when available,
// falling back to pure-Go decoding; video frames are extracted with
// ffmpeg.
type ThumbnailGenerator struct {
	cacheDir string
	enabled  bool
	mu       sync.Mutex
}

func NewThumbnailGenerator(cacheDir string, enabled bool) *ThumbnailGenerator {
	if enabled {
		logging.Debug("ThumbnailGenerator: enabled, cache dir: %s", cacheDir)
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logging.Warn("ThumbnailGenerator: failed to create cache dir: %v", err)
		}
	} else {
		logging.Debug("ThumbnailGenerator: disabled")
	}
	return &ThumbnailGenerator{
		cacheDir: cacheDir,
		enabled:  enabled,
	}
}

func (t *ThumbnailGenerator) IsEnabled() bool {
	return t.enabled
}

// CacheKey returns the cache file name for a source path.
func CacheKey(sourcePath string) string {
	hash := md5.Sum([]byte(sourcePath))
	return fmt.Sprintf("%x.jpg", hash)
}

// GetThumbnail returns the JPEG thumbnail bytes for a media file,
// generating and caching on first request.
func (t *ThumbnailGenerator) GetThumbnail(filePath string, mediaType mediatypes.MediaType) ([]byte, error) {
	if !t.enabled {
		return nil, fmt.Errorf("thumbnails disabled")
	}

	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("file not accessible: %w", err)
	}

	cachePath := filepath.Join(t.cacheDir, CacheKey(filePath))

	if data, err := os.ReadFile(cachePath); err == nil {
		logging.Debug("Thumbnail cache hit: %s", filePath)
		metrics.ThumbnailCacheHits.Inc()
		return data, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	// Serialize generation; large decodes are memory heavy
	t.mu.Lock()
	defer t.mu.Unlock()

	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	logging.Debug("Thumbnail generating: %s (type: %s)", filePath, mediaType)

	var img image.Image
	var err error

	switch mediaType {
	case mediatypes.TypeImage:
		img, err = t.imageThumbnail(filePath)
	case mediatypes.TypeVideo:
		img, err = t.videoThumbnail(filePath)
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}
	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues(string(mediaType), "error").Inc()
		return nil, fmt.Errorf("thumbnail generation failed: %w", err)
	}

	thumb := imaging.Fit(img, thumbWidth, thumbHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	if err := os.WriteFile(cachePath, buf.Bytes(), 0o644); err != nil {
		logging.Warn("Failed to cache thumbnail %s: %v", cachePath, err)
	}

	metrics.ThumbnailGenerationsTotal.WithLabelValues(string(mediaType), "success").Inc()
	return buf.Bytes(), nil
}

func (t *ThumbnailGenerator) imageThumbnail(filePath string) (image.Image, error) {
	// Fast path: vips shrinks during decode
	if img, err := loadWithVips(filePath, thumbWidth, thumbHeight); err == nil {
		return img, nil
	} else {
		logging.Debug("vips load failed for %s: %v, falling back to imaging", filePath, err)
	}

	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	logging.Debug("imaging.Open failed for %s: %v, trying ffmpeg fallback", filePath, err)

	// Last resort: ffmpeg can decode formats Go has no decoder for
	return extractFrame(filePath, nil)
}

func (t *ThumbnailGenerator) videoThumbnail(filePath string) (image.Image, error) {
	// Grab a frame one second in; the very first frame is often black
	img, err := extractFrame(filePath, []string{"-ss", "00:00:01"})
	if err == nil {
		return img, nil
	}
	logging.Debug("frame at 1s failed for %s: %v, retrying from start", filePath, err)
	return extractFrame(filePath, nil)
}

// extractFrame decodes a single frame with ffmpeg and returns it as an
// image. extraArgs are inserted after the input, before frame selection.
func extractFrame(filePath string, extraArgs []string) (image.Image, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	args := []string{"-i", filePath}
	args = append(args, extraArgs...)
	args = append(args, "-vframes", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	cmd := exec.Command("ffmpeg", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", filePath)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

// CleanupOrphans removes cached thumbnails whose source file is no
// longer in the catalog. knownPaths holds every indexed media path.
func (t *ThumbnailGenerator) CleanupOrphans(knownPaths map[string]struct{}) (int, error) {
	if !t.enabled {
		return 0, nil
	}

	valid := make(map[string]struct{}, len(knownPaths))
	for path := range knownPaths {
		valid[CacheKey(path)] = struct{}{}
	}

	entries, err := os.ReadDir(t.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		if _, ok := valid[entry.Name()]; ok {
			continue
		}

		path := filepath.Join(t.cacheDir, entry.Name())
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			logging.Warn("Failed to remove orphaned thumbnail %s: %v", path, err)
			continue
		}
		metrics.ReaperOrphansRemoved.WithLabelValues("thumbnail").Inc()
		metrics.ReaperBytesFreed.Add(float64(size))
		removed++
	}

	if removed > 0 {
		logging.Info("Removed %d orphaned thumbnails", removed)
	}
	return removed, nil
}
