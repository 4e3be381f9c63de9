package hls

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"media-server/internal/logging"
	"media-server/internal/metrics"
)

// stalePartialAge is how old a partial cache (no manifest, no active
// job) must be before a sweep removes it. Partials younger than this
// may belong to a job that is about to restart.
const stalePartialAge = 24 * time.Hour

// KnownIDsFunc returns the set of media IDs currently in the catalog.
type KnownIDsFunc func(ctx context.Context) (map[int64]struct{}, error)

// Reaper periodically removes segment caches whose media item no longer
// exists, plus stale partial caches left behind by crashed jobs.
type Reaper struct {
	engine   *Engine
	knownIDs KnownIDsFunc
	interval time.Duration
}

// NewReaper creates a reaper sweeping the engine's cache root.
func NewReaper(engine *Engine, knownIDs KnownIDsFunc, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Reaper{
		engine:   engine,
		knownIDs: knownIDs,
		interval: interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. An
// initial sweep runs immediately.
func (r *Reaper) Run(ctx context.Context) {
	logging.Info("Orphan reaper started (interval: %s)", r.interval)

	if _, err := r.Sweep(ctx); err != nil {
		logging.Error("Orphan sweep failed: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Orphan reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logging.Error("Orphan sweep failed: %v", err)
			}
		}
	}
}

// Sweep removes orphaned and stale caches once and returns how many
// directories were removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.ReaperSweepsTotal.Inc()

	known, err := r.knownIDs(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(r.engine.cfg.CacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}

		mediaID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			// Stray non-cache directory; leave it alone
			continue
		}

		if _, ok := known[mediaID]; !ok {
			dir := filepath.Join(r.engine.cfg.CacheRoot, entry.Name())
			size := dirSize(dir)
			if err := r.engine.ClearCache(mediaID); err != nil {
				logging.Warn("Failed to remove orphaned cache %s: %v", dir, err)
				continue
			}
			logging.Info("Removed orphaned HLS cache for media %d (%d bytes)", mediaID, size)
			metrics.ReaperOrphansRemoved.WithLabelValues("hls").Inc()
			metrics.ReaperBytesFreed.Add(float64(size))
			removed++
			continue
		}

		removed += r.sweepPartials(mediaID)
	}

	if removed > 0 {
		logging.Info("Orphan sweep removed %d cache directories in %s", removed, time.Since(start).Round(time.Millisecond))
	} else {
		logging.Debug("Orphan sweep found nothing to remove (%s)", time.Since(start).Round(time.Millisecond))
	}
	return removed, nil
}

// sweepPartials removes old quality directories that never completed
// and have no job attached.
func (r *Reaper) sweepPartials(mediaID int64) int {
	removed := 0
	for _, quality := range Qualities() {
		if r.engine.HasCache(mediaID, quality) || r.engine.IsGenerating(mediaID, quality) {
			continue
		}

		dir := r.engine.JobDir(mediaID, quality)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if time.Since(info.ModTime()) < stalePartialAge {
			continue
		}

		size := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			logging.Warn("Failed to remove stale partial cache %s: %v", dir, err)
			continue
		}
		logging.Info("Removed stale partial HLS cache %s (%d bytes)", dir, size)
		metrics.ReaperOrphansRemoved.WithLabelValues("hls").Inc()
		metrics.ReaperBytesFreed.Add(float64(size))
		removed++
	}
	return removed
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
