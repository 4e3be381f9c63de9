package hls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"media-server/internal/logging"
	"media-server/internal/metrics"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrCapacity means all transcode slots are busy. Requests are never
	// queued; callers should back off and retry.
	ErrCapacity = errors.New("transcoder at capacity")

	// ErrWaitTimeout means a segment did not appear within the wait window.
	ErrWaitTimeout = errors.New("timed out waiting for segment")

	// ErrSegmentNotReady means the segment is neither cached nor produced
	// by an active job.
	ErrSegmentNotReady = errors.New("segment not ready")

	// ErrSegmentOutOfRange means the segment index is beyond the end of
	// the source.
	ErrSegmentOutOfRange = errors.New("segment index out of range")

	// ErrJobFailed means the transcode job producing the segment failed.
	ErrJobFailed = errors.New("transcode job failed")

	// ErrShutdown means the engine is shutting down.
	ErrShutdown = errors.New("engine shutting down")
)

// manifestName marks a (media, quality) cache directory as complete.
const manifestName = "manifest.json"

// Manifest records a completed transcode. Its presence is the cache
// completeness marker; failed jobs never write one.
type Manifest struct {
	MediaID     int64     `json:"mediaId"`
	Quality     Quality   `json:"quality"`
	Segments    int       `json:"segments"`
	Duration    float64   `json:"duration"`
	CompletedAt time.Time `json:"completedAt"`
}

// Config configures an Engine. All fields except Adapter and CacheRoot
// have sane defaults.
type Config struct {
	// CacheRoot is the directory holding per-media segment caches.
	CacheRoot string

	// MaxConcurrentJobs bounds the number of simultaneous transcodes.
	MaxConcurrentJobs int

	// SegmentWaitTimeout bounds how long a segment request blocks.
	SegmentWaitTimeout time.Duration

	// StallTimeout marks a job failed when no new segment appears for
	// this long.
	StallTimeout time.Duration

	// Adapter starts transcode processes.
	Adapter ProcessAdapter
}

// Engine is the on-demand HLS transcode engine. It tracks one job per
// (media, quality) pair, admits new jobs up to a fixed concurrency
// bound, and serves segments from the on-disk cache once published.
//
// Engines are constructed explicitly and carry all their own state.
type Engine struct {
	cfg Config
	sem *semaphore.Weighted

	mu     sync.Mutex
	jobs   map[jobKey]*job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type jobKey struct {
	mediaID int64
	quality Quality
}

func (k jobKey) String() string {
	return fmt.Sprintf("%d/%s", k.mediaID, k.quality)
}

// NewEngine creates an engine. CacheRoot must exist and be writable.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.CacheRoot == "" {
		return nil, errors.New("hls: cache root is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("hls: process adapter is required")
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 2
	}
	if cfg.SegmentWaitTimeout <= 0 {
		cfg.SegmentWaitTimeout = 60 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		jobs:   make(map[jobKey]*job),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// JobDir returns the cache directory for a (media, quality) pair.
func (e *Engine) JobDir(mediaID int64, quality Quality) string {
	return filepath.Join(e.cfg.CacheRoot, strconv.FormatInt(mediaID, 10), string(quality))
}

// HasCache reports whether a completed segment cache exists on disk.
func (e *Engine) HasCache(mediaID int64, quality Quality) bool {
	_, err := e.readManifest(mediaID, quality)
	return err == nil
}

// IsGenerating reports whether a transcode job is currently queued or
// running for the pair.
func (e *Engine) IsGenerating(mediaID int64, quality Quality) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[jobKey{mediaID, quality}]
	return ok && (j.state == StateQueued || j.state == StateRunning)
}

// Status returns the job state and ready segment count for the pair.
// ok is false when the pair has neither a job nor a completed cache.
func (e *Engine) Status(mediaID int64, quality Quality) (state State, ready int, ok bool) {
	e.mu.Lock()
	j, exists := e.jobs[jobKey{mediaID, quality}]
	if exists {
		state, ready = j.state, j.ready
	}
	e.mu.Unlock()
	if exists {
		return state, ready, true
	}

	if m, err := e.readManifest(mediaID, quality); err == nil {
		return StateComplete, m.Segments, true
	}
	return "", 0, false
}

// StartGeneration starts a transcode job for the pair if one isn't
// already running and the cache isn't already complete. Starting an
// already-active pair is a no-op. Returns ErrCapacity when all
// transcode slots are busy.
func (e *Engine) StartGeneration(ctx context.Context, mediaID int64, quality Quality, sourcePath string, duration float64) error {
	preset, err := PresetFor(quality)
	if err != nil {
		return err
	}

	if e.HasCache(mediaID, quality) {
		return nil
	}

	key := jobKey{mediaID, quality}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	if existing, ok := e.jobs[key]; ok {
		if existing.state == StateQueued || existing.state == StateRunning {
			e.mu.Unlock()
			return nil
		}
		// Terminal leftover from an earlier run; replace it
		delete(e.jobs, key)
	}

	if !e.sem.TryAcquire(1) {
		e.mu.Unlock()
		metrics.HLSAdmissionRejects.Inc()
		logging.Debug("HLS job %s rejected: all %d slots busy", key, e.cfg.MaxConcurrentJobs)
		return ErrCapacity
	}

	j := &job{
		id:         uuid.NewString()[:8],
		key:        key,
		dir:        e.JobDir(mediaID, quality),
		sourcePath: sourcePath,
		duration:   duration,
		expected:   SegmentCount(duration),
		state:      StateQueued,
		notify:     make(chan struct{}),
	}
	e.jobs[key] = j
	e.wg.Add(1)
	e.mu.Unlock()

	logging.Info("HLS job %s [%s]: starting for %s (%d segments expected)", key, j.id, sourcePath, j.expected)

	go e.run(j, preset)
	return nil
}

// run drives a job from start to a terminal state.
func (e *Engine) run(j *job, preset Preset) {
	defer e.wg.Done()

	// A fresh job owns its whole directory. Stale segments from an
	// earlier failed run are regenerated rather than trusted.
	if err := os.RemoveAll(j.dir); err != nil {
		logging.Warn("HLS job %s [%s]: failed to clear directory: %v", j.key, j.id, err)
	}

	proc, err := e.cfg.Adapter.Start(e.ctx, j.sourcePath, j.dir, preset)
	if err != nil {
		e.finalize(j, fmt.Errorf("failed to start transcode: %w", err))
		return
	}

	e.mu.Lock()
	j.state = StateRunning
	j.process = proc
	j.lastProgress = time.Now()
	if e.closed {
		proc.Stop()
	}
	e.publishLocked(j)
	e.mu.Unlock()
	metrics.HLSJobsRunning.Inc()
	defer metrics.HLSJobsRunning.Dec()

	stallStop := make(chan struct{})
	defer close(stallStop)
	go e.watchStall(j, proc, stallStop)

	for n := range proc.Progress() {
		e.mu.Lock()
		if n > j.ready {
			metrics.HLSSegmentsGenerated.WithLabelValues(string(j.key.quality)).Add(float64(n - j.ready))
			j.ready = n
			j.lastProgress = time.Now()
			e.publishLocked(j)
			logging.Debug("HLS job %s [%s]: %d/%d segments ready", j.key, j.id, n, j.expected)
		}
		e.mu.Unlock()
	}

	<-proc.Done()

	e.mu.Lock()
	stalled := j.stalled
	e.mu.Unlock()

	switch {
	case stalled:
		e.finalize(j, fmt.Errorf("no progress for %s: %w", e.cfg.StallTimeout, ErrJobFailed))
	default:
		e.finalize(j, proc.Err())
	}
}

// watchStall stops the job's process when segment output halts for
// longer than the stall timeout. Ready segments stay on disk.
func (e *Engine) watchStall(j *job, proc Process, stop <-chan struct{}) {
	interval := e.cfg.StallTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			idle := j.state == StateRunning && time.Since(j.lastProgress) > e.cfg.StallTimeout
			if idle {
				j.stalled = true
			}
			e.mu.Unlock()

			if idle {
				logging.Warn("HLS job %s [%s]: stalled, stopping transcode", j.key, j.id)
				metrics.HLSJobsTotal.WithLabelValues(string(j.key.quality), "stalled").Inc()
				proc.Stop()
				return
			}
		}
	}
}

// finalize moves a job to a terminal state, publishes the outcome, and
// releases its transcode slot.
func (e *Engine) finalize(j *job, runErr error) {
	defer e.sem.Release(1)

	// Events can lag the filesystem; trust a final scan
	final := CountReadySegments(j.dir)

	e.mu.Lock()
	if final > j.ready {
		metrics.HLSSegmentsGenerated.WithLabelValues(string(j.key.quality)).Add(float64(final - j.ready))
		j.ready = final
	}
	ready := j.ready
	expected := j.expected
	e.mu.Unlock()

	var state State
	var jobErr error
	switch {
	case runErr != nil:
		state, jobErr = StateFailed, runErr
	case expected > 0 && ready < expected:
		state, jobErr = StateFailed, fmt.Errorf("only %d of %d segments produced: %w", ready, expected, ErrJobFailed)
	default:
		state = StateComplete
	}

	if state == StateComplete {
		if err := e.writeManifest(j); err != nil {
			logging.Error("HLS job %s [%s]: failed to write manifest: %v", j.key, j.id, err)
			state, jobErr = StateFailed, err
		}
	}

	e.mu.Lock()
	j.state = state
	j.err = jobErr
	if state == StateComplete {
		// The manifest is the durable record; drop the tracking entry
		delete(e.jobs, j.key)
	}
	e.publishLocked(j)
	e.mu.Unlock()

	metrics.HLSJobsTotal.WithLabelValues(string(j.key.quality), string(state)).Inc()

	if jobErr != nil {
		logging.Error("HLS job %s [%s]: failed with %d/%d segments ready: %v", j.key, j.id, ready, expected, jobErr)
	} else {
		logging.Info("HLS job %s [%s]: complete, %d segments", j.key, j.id, ready)
	}
}

// publishLocked wakes every waiter on the job. Callers must hold e.mu.
func (e *Engine) publishLocked(j *job) {
	close(j.notify)
	j.notify = make(chan struct{})
}

// Segment returns the on-disk path of a segment, without blocking.
// ErrSegmentNotReady is returned when the segment isn't available yet;
// ErrSegmentOutOfRange when it never will be.
func (e *Engine) Segment(mediaID int64, quality Quality, index int) (string, error) {
	if index < 0 {
		return "", ErrSegmentOutOfRange
	}

	key := jobKey{mediaID, quality}

	e.mu.Lock()
	if j, ok := e.jobs[key]; ok {
		ready := j.ready
		expected := j.expected
		e.mu.Unlock()
		if index < ready {
			return filepath.Join(e.JobDir(mediaID, quality), SegmentName(index)), nil
		}
		if expected > 0 && index >= expected {
			return "", ErrSegmentOutOfRange
		}
		return "", ErrSegmentNotReady
	}
	e.mu.Unlock()

	if m, err := e.readManifest(mediaID, quality); err == nil {
		if index < m.Segments {
			return filepath.Join(e.JobDir(mediaID, quality), SegmentName(index)), nil
		}
		return "", ErrSegmentOutOfRange
	}
	return "", ErrSegmentNotReady
}

// WaitForSegment blocks until the segment is available, the producing
// job fails, or the wait window elapses. The returned path points at a
// complete segment file.
func (e *Engine) WaitForSegment(ctx context.Context, mediaID int64, quality Quality, index int) (string, error) {
	if index < 0 {
		return "", ErrSegmentOutOfRange
	}

	start := time.Now()
	defer func() {
		metrics.HLSSegmentWaitDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SegmentWaitTimeout)
	defer cancel()

	key := jobKey{mediaID, quality}

	for {
		e.mu.Lock()
		j, ok := e.jobs[key]
		if !ok {
			e.mu.Unlock()
			// No job: the pair is either cached or idle
			path, err := e.Segment(mediaID, quality, index)
			if err != nil {
				return "", err
			}
			return path, nil
		}

		if index < j.ready {
			e.mu.Unlock()
			return filepath.Join(e.JobDir(mediaID, quality), SegmentName(index)), nil
		}
		if j.expected > 0 && index >= j.expected {
			e.mu.Unlock()
			return "", ErrSegmentOutOfRange
		}
		if j.state == StateFailed {
			err := j.err
			e.mu.Unlock()
			return "", fmt.Errorf("%w: %v", ErrJobFailed, err)
		}

		ch := j.notify
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			metrics.HLSSegmentWaitTimeouts.Inc()
			return "", ErrWaitTimeout
		}
	}
}

// RequestSegment is the full segment resolution flow: serve from cache,
// wait on an active job, or start a fresh job and wait. Returns
// ErrCapacity when a job would be needed but no slot is free.
func (e *Engine) RequestSegment(ctx context.Context, mediaID int64, quality Quality, index int, sourcePath string, duration float64) (string, error) {
	if path, err := e.Segment(mediaID, quality, index); err == nil {
		metrics.HLSCacheHits.Inc()
		return path, nil
	} else if errors.Is(err, ErrSegmentOutOfRange) {
		return "", err
	}
	metrics.HLSCacheMisses.Inc()

	if !e.IsGenerating(mediaID, quality) {
		if err := e.StartGeneration(ctx, mediaID, quality, sourcePath, duration); err != nil {
			return "", err
		}
	}

	return e.WaitForSegment(ctx, mediaID, quality, index)
}

// PregenerateInitial starts a job and waits until the first count
// segments exist. Only the highest index is waited on; lower segments
// are published before it by construction.
func (e *Engine) PregenerateInitial(ctx context.Context, mediaID int64, quality Quality, sourcePath string, duration float64, count int) error {
	if count < 1 {
		return nil
	}

	if err := e.StartGeneration(ctx, mediaID, quality, sourcePath, duration); err != nil {
		return err
	}

	if expected := SegmentCount(duration); expected > 0 && count > expected {
		count = expected
	}

	_, err := e.WaitForSegment(ctx, mediaID, quality, count-1)
	return err
}

// Playlist returns the playlist for the pair's current state: a full
// VOD playlist when the cache is complete, a growing partial playlist
// while a job is active.
func (e *Engine) Playlist(mediaID int64, quality Quality) (string, error) {
	if m, err := e.readManifest(mediaID, quality); err == nil {
		return VodPlaylist(m.Duration), nil
	}

	e.mu.Lock()
	j, ok := e.jobs[jobKey{mediaID, quality}]
	if !ok {
		e.mu.Unlock()
		return "", ErrSegmentNotReady
	}
	ready := j.ready
	e.mu.Unlock()

	return LivePlaylist(ready, false), nil
}

// ClearCache removes the cached segments for a media item across all
// qualities. Active jobs are stopped first.
func (e *Engine) ClearCache(mediaID int64) error {
	e.mu.Lock()
	for _, quality := range Qualities() {
		key := jobKey{mediaID, quality}
		if j, ok := e.jobs[key]; ok {
			if j.process != nil {
				j.process.Stop()
			}
			delete(e.jobs, key)
		}
	}
	e.mu.Unlock()

	dir := filepath.Join(e.cfg.CacheRoot, strconv.FormatInt(mediaID, 10))
	return os.RemoveAll(dir)
}

// ActiveJobs returns the number of queued or running jobs.
func (e *Engine) ActiveJobs() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, j := range e.jobs {
		if j.state == StateQueued || j.state == StateRunning {
			count++
		}
	}
	return count
}

// Shutdown stops all jobs and waits for them to finish, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, j := range e.jobs {
		if j.process != nil {
			j.process.Stop()
		}
	}
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for transcode jobs to stop: %w", ctx.Err())
	}
}

func (e *Engine) manifestPath(mediaID int64, quality Quality) string {
	return filepath.Join(e.JobDir(mediaID, quality), manifestName)
}

func (e *Engine) readManifest(mediaID int64, quality Quality) (*Manifest, error) {
	data, err := os.ReadFile(e.manifestPath(mediaID, quality))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest: %w", err)
	}
	return &m, nil
}

// writeManifest atomically publishes the completion marker so a crash
// mid-write can never leave a half-valid cache.
func (e *Engine) writeManifest(j *job) error {
	m := Manifest{
		MediaID:     j.key.mediaID,
		Quality:     j.key.quality,
		Segments:    j.ready,
		Duration:    j.duration,
		CompletedAt: time.Now(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(e.manifestPath(j.key.mediaID, j.key.quality), data, 0o644)
}
