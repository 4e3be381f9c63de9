package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"media-server/internal/database"
	"media-server/internal/hls"
	"media-server/internal/indexer"
	"media-server/internal/media"
	"media-server/internal/mediatypes"
	"media-server/internal/startup"
)

// instantAdapter fakes a transcode by writing every expected segment
// immediately and exiting. Good enough for handler-level tests; the
// engine's own tests cover incremental publication.
type instantAdapter struct {
	segments int
	fail     bool
}

func (a *instantAdapter) Start(_ context.Context, _, outDir string, _ hls.Preset) (hls.Process, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	progress := make(chan int, 1)
	done := make(chan struct{})
	p := &instantProcess{progress: progress, done: done, fail: a.fail}
	go func() {
		for i := 0; i < a.segments; i++ {
			os.WriteFile(filepath.Join(outDir, hls.SegmentName(i)), []byte("ts"), 0o644)
		}
		progress <- a.segments
		close(progress)
		close(done)
	}()
	return p, nil
}

type instantProcess struct {
	progress chan int
	done     chan struct{}
	fail     bool
}

func (p *instantProcess) Progress() <-chan int  { return p.progress }
func (p *instantProcess) Done() <-chan struct{} { return p.done }
func (p *instantProcess) Stop()                 {}
func (p *instantProcess) Err() error {
	if p.fail {
		return os.ErrInvalid
	}
	return nil
}

// blockingAdapter starts processes that never produce output, used to
// saturate the engine's admission slots.
type blockingAdapter struct{}

func (blockingAdapter) Start(_ context.Context, _, outDir string, _ hls.Preset) (hls.Process, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	return &blockingProcess{progress: make(chan int), done: make(chan struct{})}, nil
}

type blockingProcess struct {
	progress chan int
	done     chan struct{}
	stopOnce sync.Once
}

func (p *blockingProcess) Progress() <-chan int  { return p.progress }
func (p *blockingProcess) Done() <-chan struct{} { return p.done }
func (p *blockingProcess) Err() error            { return nil }
func (p *blockingProcess) Stop() {
	p.stopOnce.Do(func() {
		close(p.progress)
		close(p.done)
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

type harness struct {
	h      *Handlers
	db     *database.Database
	engine *hls.Engine
	dir    string
}

func newHarness(t *testing.T, adapter hls.ProcessAdapter) *harness {
	t.Helper()

	dir := t.TempDir()
	mediaDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatalf("failed to create media dir: %v", err)
	}

	db, err := database.New(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine, err := hls.NewEngine(hls.Config{
		CacheRoot:          filepath.Join(dir, "hls"),
		MaxConcurrentJobs:  1,
		SegmentWaitTimeout: 5 * time.Second,
		Adapter:            adapter,
	})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	thumbGen := media.NewThumbnailGenerator(filepath.Join(dir, "thumbs"), true)
	idx := indexer.New(db, mediaDir, thumbGen, time.Hour)

	h := New(db, engine, idx, thumbGen, &startup.Config{MediaDir: mediaDir, TranscodingEnabled: true})
	return &harness{h: h, db: db, engine: engine, dir: mediaDir}
}

// seedVideo writes a source file, registers it, and returns the media
// row with its assigned ID.
func (ha *harness) seedVideo(t *testing.T, name string, duration float64) *database.MediaItem {
	t.Helper()
	return ha.seed(t, name, mediatypes.TypeVideo, duration)
}

func (ha *harness) seed(t *testing.T, name string, mediaType mediatypes.MediaType, duration float64) *database.MediaItem {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(ha.dir, name)
	if err := os.WriteFile(path, []byte("source bytes"), 0o644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	libID, err := ha.db.UpsertLibrary(ctx, "library", ha.dir)
	if err != nil {
		t.Fatalf("UpsertLibrary() failed: %v", err)
	}

	tx, err := ha.db.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	item := &database.MediaItem{
		LibraryID: libID,
		Name:      name,
		Path:      path,
		Type:      mediaType,
		Size:      12,
		ModTime:   time.Now(),
		Duration:  duration,
	}
	err = ha.db.UpsertMedia(tx, item)
	if endErr := ha.db.EndBatch(tx, err); endErr != nil {
		t.Fatalf("failed to seed media: %v", endErr)
	}

	listing, err := ha.db.ListMediaByLibrary(ctx, libID, 1, 500)
	if err != nil {
		t.Fatalf("ListMediaByLibrary() failed: %v", err)
	}
	for i := range listing.Items {
		if listing.Items[i].Path == path {
			return &listing.Items[i]
		}
	}
	t.Fatalf("seeded media %s not found", name)
	return nil
}

// seedCache fabricates a completed segment cache by running a job
// through the engine with an instant adapter.
func seedCache(t *testing.T, ha *harness, item *database.MediaItem, quality hls.Quality) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count := hls.SegmentCount(item.Duration)
	err := ha.h.engine.PregenerateInitial(ctx, item.ID, quality, item.Path, item.Duration, count)
	if err != nil {
		t.Fatalf("failed to seed segment cache: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !ha.engine.HasCache(item.ID, quality) {
		if time.Now().After(deadline) {
			t.Fatal("segment cache never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
