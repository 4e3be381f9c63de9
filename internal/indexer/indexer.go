package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"media-server/internal/database"
	"media-server/internal/logging"
	"media-server/internal/media"
	"media-server/internal/mediatypes"
	"media-server/internal/metrics"
	"media-server/internal/workers"
)

// Indexer scans the media directory into the catalog. Each immediate
// subdirectory of the media root is treated as a library; files placed
// directly in the root are ignored.
type Indexer struct {
	db         *database.Database
	mediaDir   string
	thumbnails *media.ThumbnailGenerator
	interval   time.Duration

	mu      sync.Mutex
	running bool
}

func New(db *database.Database, mediaDir string, thumbnails *media.ThumbnailGenerator, interval time.Duration) *Indexer {
	return &Indexer{
		db:         db,
		mediaDir:   mediaDir,
		thumbnails: thumbnails,
		interval:   interval,
	}
}

// IsRunning reports whether a scan is in progress.
func (idx *Indexer) IsRunning() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.running
}

// Start runs an immediate scan and then rescans on the configured
// interval until ctx is cancelled.
func (idx *Indexer) Start(ctx context.Context) {
	logging.Info("Indexer started (interval: %s)", idx.interval)

	if err := idx.RunOnce(ctx); err != nil {
		logging.Error("Index run failed: %v", err)
	}

	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Indexer stopped")
			return
		case <-ticker.C:
			if err := idx.RunOnce(ctx); err != nil {
				logging.Error("Index run failed: %v", err)
			}
		}
	}
}

// RunOnce performs a full scan: discover libraries, walk their files,
// upsert everything seen, drop rows for files that disappeared, then
// probe new videos and clean up orphaned thumbnails.
func (idx *Indexer) RunOnce(ctx context.Context) error {
	idx.mu.Lock()
	if idx.running {
		idx.mu.Unlock()
		logging.Debug("Index run skipped: previous run still in progress")
		return nil
	}
	idx.running = true
	idx.mu.Unlock()

	metrics.IndexerIsRunning.Set(1)
	defer func() {
		idx.mu.Lock()
		idx.running = false
		idx.mu.Unlock()
		metrics.IndexerIsRunning.Set(0)
	}()

	start := time.Now()
	metrics.IndexerRunsTotal.Inc()
	logging.Info("Index run starting: %s", idx.mediaDir)

	libraries, err := idx.discoverLibraries(ctx)
	if err != nil {
		metrics.IndexerErrors.Inc()
		return err
	}

	knownPaths := make(map[string]struct{})
	totalSeen := 0
	for _, lib := range libraries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seen, err := idx.scanLibrary(ctx, lib, knownPaths)
		if err != nil {
			metrics.IndexerErrors.Inc()
			logging.Error("Failed to scan library %q: %v", lib.Name, err)
			continue
		}
		totalSeen += seen
	}
	metrics.IndexerFilesSeen.Add(float64(totalSeen))

	idx.probeNewVideos(ctx)

	if idx.thumbnails != nil {
		if _, err := idx.thumbnails.CleanupOrphans(knownPaths); err != nil {
			logging.Warn("Thumbnail cleanup failed: %v", err)
		}
	}

	stats, err := idx.db.ComputeStats(ctx)
	if err != nil {
		logging.Warn("Failed to compute index stats: %v", err)
	} else {
		stats.LastIndexed = time.Now()
		idx.db.UpdateStats(stats)
	}

	elapsed := time.Since(start)
	metrics.IndexerLastRunDuration.Set(elapsed.Seconds())
	logging.Info("Index run complete: %d files in %d libraries (%s)", totalSeen, len(libraries), elapsed.Round(time.Millisecond))
	return nil
}

// discoverLibraries registers each top-level media subdirectory.
func (idx *Indexer) discoverLibraries(ctx context.Context) ([]database.Library, error) {
	entries, err := os.ReadDir(idx.mediaDir)
	if err != nil {
		return nil, err
	}

	var libraries []database.Library
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(idx.mediaDir, entry.Name())
		id, err := idx.db.UpsertLibrary(ctx, entry.Name(), path)
		if err != nil {
			logging.Error("Failed to register library %q: %v", entry.Name(), err)
			continue
		}
		libraries = append(libraries, database.Library{ID: id, Name: entry.Name(), Path: path})
	}
	return libraries, nil
}

// scanLibrary walks one library with a worker pool and batch-upserts
// everything found. Returns the number of media files seen.
func (idx *Indexer) scanLibrary(ctx context.Context, lib database.Library, knownPaths map[string]struct{}) (int, error) {
	cutoff := time.Now()

	paths := make(chan string, 256)
	items := make(chan *database.MediaItem, 256)

	var walkErr error
	go func() {
		defer close(paths)
		walkErr = filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.Warn("Walk error at %s: %v", path, err)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				// Hidden directories are skipped wholesale
				if d.Name() != "." && len(d.Name()) > 1 && d.Name()[0] == '.' {
					return filepath.SkipDir
				}
				return nil
			}
			paths <- path
			return nil
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers.ForIO(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				item := idx.statFile(lib.ID, path)
				if item != nil {
					items <- item
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(items)
	}()

	tx, err := idx.db.BeginBatch()
	if err != nil {
		return 0, err
	}

	seen := 0
	var batchErr error
	for item := range items {
		if batchErr != nil {
			continue
		}
		if err := idx.db.UpsertMedia(tx, item); err != nil {
			batchErr = err
			continue
		}
		knownPaths[item.Path] = struct{}{}
		seen++
	}
	if walkErr != nil && batchErr == nil {
		batchErr = walkErr
	}

	if batchErr == nil {
		if removed, err := idx.db.DeleteMissingMedia(tx, lib.ID, cutoff); err != nil {
			batchErr = err
		} else if removed > 0 {
			logging.Info("Library %q: removed %d vanished files", lib.Name, removed)
		}
	}

	if err := idx.db.EndBatch(tx, batchErr); err != nil {
		return seen, err
	}
	return seen, nil
}

// statFile builds a catalog row for one file, or nil for files that
// aren't media.
func (idx *Indexer) statFile(libraryID int64, path string) *database.MediaItem {
	mediaType := mediatypes.FromPath(path)
	if mediaType == mediatypes.TypeOther {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		logging.Warn("Failed to stat %s: %v", path, err)
		return nil
	}

	return &database.MediaItem{
		LibraryID: libraryID,
		Name:      info.Name(),
		Path:      path,
		Type:      mediaType,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}
}

// probeNewVideos fills in duration and stream metadata for videos that
// haven't been probed yet.
func (idx *Indexer) probeNewVideos(ctx context.Context) {
	pending, err := idx.db.MediaNeedingProbe(ctx, 200)
	if err != nil {
		logging.Warn("Failed to list unprobed videos: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	logging.Info("Probing %d new videos", len(pending))

	queue := make(chan database.MediaItem, len(pending))
	for _, item := range pending {
		queue <- item
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers.ForMixed(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if ctx.Err() != nil {
					return
				}
				result, err := Probe(ctx, item.Path)
				if err != nil {
					logging.Debug("Probe failed for %s: %v", item.Path, err)
					continue
				}
				if err := idx.db.UpdateMediaProbe(ctx, item.ID, result.Duration, result.Codec, result.Width, result.Height); err != nil {
					logging.Warn("Failed to store probe result for %s: %v", item.Path, err)
				}
			}
		}()
	}
	wg.Wait()
}
