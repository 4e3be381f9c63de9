package hls

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-server/internal/logging"
)

// pollInterval is the fallback scan cadence for segment detection when
// filesystem events are delayed or unavailable.
const pollInterval = 500 * time.Millisecond

// Process is a running transcode owned by an adapter.
type Process interface {
	// Progress delivers the contiguous ready-segment count as it grows.
	// The channel is closed once the process has exited and the final
	// count has been delivered.
	Progress() <-chan int
	// Done is closed when the underlying process has exited.
	Done() <-chan struct{}
	// Err reports the process exit error. Only valid after Done is closed.
	Err() error
	// Stop terminates the process. Safe to call more than once.
	Stop()
}

// ProcessAdapter starts transcode processes. The engine talks to ffmpeg
// only through this interface, so tests can substitute a fake.
type ProcessAdapter interface {
	Start(ctx context.Context, sourcePath, outDir string, preset Preset) (Process, error)
}

// FFmpegAdapter runs real ffmpeg processes.
type FFmpegAdapter struct {
	// FFmpegPath overrides the binary looked up on PATH. Empty means "ffmpeg".
	FFmpegPath string
}

// NewFFmpegAdapter returns an adapter using ffmpeg from PATH.
func NewFFmpegAdapter() *FFmpegAdapter {
	return &FFmpegAdapter{}
}

// Start launches ffmpeg writing HLS segments into outDir.
//
// The temp_file flag makes ffmpeg write each segment to a .tmp file and
// rename it into place when finished, so a segment file that exists under
// its final name is always complete.
func (a *FFmpegAdapter) Start(ctx context.Context, sourcePath, outDir string, preset Preset) (Process, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	binary := a.FFmpegPath
	if binary == "" {
		binary = "ffmpeg"
	}

	scale := fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", preset.Width, preset.Height)
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", preset.VideoBitrate,
		"-maxrate", preset.VideoBitrate,
		"-bufsize", doubleBitrate(preset.VideoBitrate),
		"-vf", scale,
		"-c:a", "aac",
		"-b:a", preset.AudioBitrate,
		"-ac", "2",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outDir, "segment-%03d.ts"),
		"-hls_flags", "temp_file",
		filepath.Join(outDir, "index.m3u8"),
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, binary, args...)

	logging.Debug("Starting ffmpeg: %s %s", binary, strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &ffmpegProcess{
		cmd:      cmd,
		outDir:   outDir,
		cancel:   cancel,
		progress: make(chan int, 8),
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("fsnotify unavailable, falling back to polling: %v", err)
		watcher = nil
	} else if err := watcher.Add(outDir); err != nil {
		logging.Warn("failed to watch %s, falling back to polling: %v", outDir, err)
		if closeErr := watcher.Close(); closeErr != nil {
			logging.Debug("watcher close failed: %v", closeErr)
		}
		watcher = nil
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	go p.observe(watcher)

	return p, nil
}

type ffmpegProcess struct {
	cmd      *exec.Cmd
	outDir   string
	cancel   context.CancelFunc
	progress chan int
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (p *ffmpegProcess) Progress() <-chan int  { return p.progress }
func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }

func (p *ffmpegProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *ffmpegProcess) Stop() {
	p.stopOnce.Do(p.cancel)
}

// observe watches the output directory and reports the contiguous ready
// segment count whenever it grows. Events are a latency optimization;
// the poll ticker is the correctness backstop.
func (p *ffmpegProcess) observe(watcher *fsnotify.Watcher) {
	defer close(p.progress)
	if watcher != nil {
		defer func() {
			if err := watcher.Close(); err != nil {
				logging.Debug("watcher close failed: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := -1
	emit := func() {
		n := CountReadySegments(p.outDir)
		if n > last {
			select {
			case p.progress <- n:
				// Advance only on delivery so a count dropped on a full
				// buffer is retried by the next tick.
				last = n
			default:
			}
		}
	}

	var events chan fsnotify.Event
	var errors chan error
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	for {
		select {
		case <-p.done:
			// Final scan so the last segments are never missed
			emit()
			return
		case <-ticker.C:
			emit()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(ev.Name, ".ts") {
				emit()
			}
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			logging.Warn("segment watcher error: %v", err)
		}
	}
}

// CountReadySegments scans a job directory and returns the number of
// segments that are contiguous starting from index 0. A gap stops the
// count even if later segments exist.
func CountReadySegments(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	present := make(map[int]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, err := ParseSegmentName(entry.Name())
		if err != nil {
			continue
		}
		present[index] = true
	}

	count := 0
	for present[count] {
		count++
	}
	return count
}

// doubleBitrate turns "5000k" into "10000k" for the encoder buffer size.
func doubleBitrate(bitrate string) string {
	trimmed := strings.TrimSuffix(bitrate, "k")
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil {
		return bitrate
	}
	return fmt.Sprintf("%dk", n*2)
}
