package hls

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSegments(t *testing.T, dir string, indices ...int) {
	t.Helper()
	for _, i := range indices {
		if err := os.WriteFile(filepath.Join(dir, SegmentName(i)), []byte("ts"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCountReadySegments(t *testing.T) {
	dir := t.TempDir()

	if got := CountReadySegments(dir); got != 0 {
		t.Errorf("empty dir: CountReadySegments() = %d, want 0", got)
	}

	writeSegments(t, dir, 0, 1, 2)
	if got := CountReadySegments(dir); got != 3 {
		t.Errorf("CountReadySegments() = %d, want 3", got)
	}

	// A gap stops the contiguous count
	writeSegments(t, dir, 4, 5)
	if got := CountReadySegments(dir); got != 3 {
		t.Errorf("with gap at 3: CountReadySegments() = %d, want 3", got)
	}

	writeSegments(t, dir, 3)
	if got := CountReadySegments(dir); got != 6 {
		t.Errorf("gap filled: CountReadySegments() = %d, want 6", got)
	}
}

func TestCountReadySegmentsIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeSegments(t, dir, 0)

	// In-flight temp files and the playlist must not count
	for _, name := range []string{"segment-001.ts.tmp", "index.m3u8", manifestName} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := CountReadySegments(dir); got != 1 {
		t.Errorf("CountReadySegments() = %d, want 1", got)
	}
}

func TestCountReadySegmentsMissingDir(t *testing.T) {
	if got := CountReadySegments(filepath.Join(t.TempDir(), "missing")); got != 0 {
		t.Errorf("CountReadySegments() on missing dir = %d, want 0", got)
	}
}

func TestObserveRedeliversDroppedCount(t *testing.T) {
	dir := t.TempDir()
	p := &ffmpegProcess{
		outDir:   dir,
		progress: make(chan int, 1),
		done:     make(chan struct{}),
	}
	go p.observe(nil)
	defer close(p.done)

	// Fill the single-slot buffer with the first count.
	writeSegments(t, dir, 0)
	deadline := time.Now().Add(2 * time.Second)
	for len(p.progress) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first count never queued")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second count arriving while the buffer is full is dropped.
	writeSegments(t, dir, 1)
	time.Sleep(2 * pollInterval)

	if n := <-p.progress; n != 1 {
		t.Fatalf("first count = %d, want 1", n)
	}

	// The dropped count must be delivered by a later sweep.
	select {
	case n := <-p.progress:
		if n != 2 {
			t.Fatalf("redelivered count = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dropped count was never redelivered")
	}
}

func TestDoubleBitrate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5000k", "10000k"},
		{"96k", "192k"},
		{"weird", "weird"},
	}
	for _, tt := range tests {
		if got := doubleBitrate(tt.in); got != tt.want {
			t.Errorf("doubleBitrate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
