package streaming

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWritePassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := NewTimeoutWriter(context.Background(), rec, DefaultConfig())
	defer tw.Close()

	payload := []byte("segment data")
	n, err := tw.Write(payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(payload) {
		t.Errorf("Write() = %d bytes, want %d", n, len(payload))
	}
	if got := rec.Body.String(); got != "segment data" {
		t.Errorf("body = %q, want %q", got, "segment data")
	}
	if tw.Stats() != int64(len(payload)) {
		t.Errorf("Stats() = %d, want %d", tw.Stats(), len(payload))
	}
}

func TestWriteChunksLargePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	cfg := DefaultConfig()
	cfg.ChunkSize = 8
	tw := NewTimeoutWriter(context.Background(), rec, cfg)
	defer tw.Close()

	payload := bytes.Repeat([]byte("x"), 100)
	n, err := tw.Write(payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 100 {
		t.Errorf("Write() = %d bytes, want 100", n)
	}
	if rec.Body.Len() != 100 {
		t.Errorf("body length = %d, want 100", rec.Body.Len())
	}
}

func TestWriteAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := NewTimeoutWriter(context.Background(), rec, DefaultConfig())
	tw.Close()

	if _, err := tw.Write([]byte("data")); !errors.Is(err, ErrStreamCanceled) {
		t.Errorf("Write() after Close error = %v, want ErrStreamCanceled", err)
	}
}

func TestWriteClientGone(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	tw := NewTimeoutWriter(ctx, rec, DefaultConfig())
	defer tw.Close()

	cancel()

	if _, err := tw.Write([]byte("data")); !errors.Is(err, ErrClientGone) {
		t.Errorf("Write() after cancel error = %v, want ErrClientGone", err)
	}
}

func TestWriteTimeout(t *testing.T) {
	rec := httptest.NewRecorder()
	slow := &slowWriter{ResponseRecorder: rec, delay: 200 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.WriteTimeout = 20 * time.Millisecond
	tw := NewTimeoutWriter(context.Background(), slow, cfg)
	defer tw.Close()

	if _, err := tw.Write([]byte("data")); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("Write() error = %v, want ErrWriteTimeout", err)
	}
}

func TestCopyStreamsReader(t *testing.T) {
	rec := httptest.NewRecorder()
	src := strings.NewReader("playlist contents here")

	if err := Copy(context.Background(), rec, src, DefaultConfig()); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got := rec.Body.String(); got != "playlist contents here" {
		t.Errorf("body = %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options header")
	}
}

type slowWriter struct {
	*httptest.ResponseRecorder
	delay time.Duration
}

func (s *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(s.delay)
	return s.ResponseRecorder.Write(p)
}
