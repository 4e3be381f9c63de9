package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"media-server/internal/mediatypes"
)

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestCacheKeyStable(t *testing.T) {
	a := CacheKey("/media/a.jpg")
	b := CacheKey("/media/a.jpg")
	c := CacheKey("/media/b.jpg")

	if a != b {
		t.Error("CacheKey() is not deterministic")
	}
	if a == c {
		t.Error("CacheKey() collides for different paths")
	}
	if filepath.Ext(a) != ".jpg" {
		t.Errorf("CacheKey() = %q, want .jpg extension", a)
	}
}

func TestGetThumbnailDisabled(t *testing.T) {
	gen := NewThumbnailGenerator(t.TempDir(), false)

	if gen.IsEnabled() {
		t.Error("IsEnabled() = true for disabled generator")
	}
	if _, err := gen.GetThumbnail("/media/a.jpg", mediatypes.TypeImage); err == nil {
		t.Error("GetThumbnail() succeeded on disabled generator")
	}
}

func TestGetThumbnailMissingFile(t *testing.T) {
	gen := NewThumbnailGenerator(t.TempDir(), true)

	if _, err := gen.GetThumbnail(filepath.Join(t.TempDir(), "missing.png"), mediatypes.TypeImage); err == nil {
		t.Error("GetThumbnail() succeeded on missing file")
	}
}

func TestGetThumbnailImage(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "photo.png")
	writeTestPNG(t, src, 640, 480)

	cacheDir := t.TempDir()
	gen := NewThumbnailGenerator(cacheDir, true)

	data, err := gen.GetThumbnail(src, mediatypes.TypeImage)
	if err != nil {
		t.Fatalf("GetThumbnail() failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not valid JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > thumbWidth || bounds.Dy() > thumbHeight {
		t.Errorf("thumbnail is %dx%d, want at most %dx%d", bounds.Dx(), bounds.Dy(), thumbWidth, thumbHeight)
	}

	// Second request must come from cache and be byte-identical
	cached, err := gen.GetThumbnail(src, mediatypes.TypeImage)
	if err != nil {
		t.Fatalf("cached GetThumbnail() failed: %v", err)
	}
	if !bytes.Equal(data, cached) {
		t.Error("cached thumbnail differs from generated one")
	}

	if _, err := os.Stat(filepath.Join(cacheDir, CacheKey(src))); err != nil {
		t.Errorf("thumbnail not written to cache: %v", err)
	}
}

func TestGetThumbnailUnsupportedType(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "notes.txt")
	if err := os.WriteFile(src, []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}

	gen := NewThumbnailGenerator(t.TempDir(), true)
	if _, err := gen.GetThumbnail(src, mediatypes.TypeOther); err == nil {
		t.Error("GetThumbnail() accepted an unsupported type")
	}
}

func TestCleanupOrphans(t *testing.T) {
	cacheDir := t.TempDir()
	gen := NewThumbnailGenerator(cacheDir, true)

	keep := "/media/keep.png"
	drop := "/media/drop.png"
	for _, path := range []string{keep, drop} {
		if err := os.WriteFile(filepath.Join(cacheDir, CacheKey(path)), []byte("jpg"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A foreign file in the cache dir is left alone
	if err := os.WriteFile(filepath.Join(cacheDir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := gen.CleanupOrphans(map[string]struct{}{keep: {}})
	if err != nil {
		t.Fatalf("CleanupOrphans() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupOrphans() removed %d, want 1", removed)
	}

	if _, err := os.Stat(filepath.Join(cacheDir, CacheKey(keep))); err != nil {
		t.Error("CleanupOrphans() removed a live thumbnail")
	}
	if _, err := os.Stat(filepath.Join(cacheDir, CacheKey(drop))); !os.IsNotExist(err) {
		t.Error("CleanupOrphans() kept an orphaned thumbnail")
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "README")); err != nil {
		t.Error("CleanupOrphans() removed a foreign file")
	}
}

func TestCleanupOrphansDisabled(t *testing.T) {
	gen := NewThumbnailGenerator(t.TempDir(), false)
	removed, err := gen.CleanupOrphans(map[string]struct{}{})
	if err != nil || removed != 0 {
		t.Errorf("CleanupOrphans() on disabled generator = (%d, %v), want (0, nil)", removed, err)
	}
}
