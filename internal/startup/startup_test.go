package startup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("STARTUP_TEST_VAR", "hello")
	if got := getEnv("STARTUP_TEST_VAR", "default"); got != "hello" {
		t.Errorf("getEnv() = %q, want %q", got, "hello")
	}
	if got := getEnv("STARTUP_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q", got, "default")
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"", true, true},
		{"", false, false},
		{"notabool", true, true},
	}

	for _, tt := range tests {
		if tt.value == "" {
			os.Unsetenv("STARTUP_TEST_BOOL")
		} else {
			t.Setenv("STARTUP_TEST_BOOL", tt.value)
		}
		if got := getEnvBool("STARTUP_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("STARTUP_TEST_INT", "7")
	if got := getEnvInt("STARTUP_TEST_INT", 2); got != 7 {
		t.Errorf("getEnvInt() = %d, want 7", got)
	}

	t.Setenv("STARTUP_TEST_INT", "notanint")
	if got := getEnvInt("STARTUP_TEST_INT", 2); got != 2 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 2", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("STARTUP_TEST_DUR", "90s")
	if got := getEnvDuration("STARTUP_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %s, want 90s", got)
	}

	t.Setenv("STARTUP_TEST_DUR", "bogus")
	if got := getEnvDuration("STARTUP_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() with invalid value = %s, want default 1m", got)
	}
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()

	newDir := filepath.Join(base, "new")
	if err := ensureDirectory(newDir, "test"); err != nil {
		t.Errorf("ensureDirectory() on missing dir returned error: %v", err)
	}
	if info, err := os.Stat(newDir); err != nil || !info.IsDir() {
		t.Errorf("ensureDirectory() did not create directory")
	}

	// Existing directory is fine
	if err := ensureDirectory(newDir, "test"); err != nil {
		t.Errorf("ensureDirectory() on existing dir returned error: %v", err)
	}

	// A file in the way is an error
	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "test"); err == nil {
		t.Error("ensureDirectory() on a regular file should return an error")
	}
}

func TestTestWriteAccess(t *testing.T) {
	dir := t.TempDir()
	if err := testWriteAccess(dir); err != nil {
		t.Errorf("testWriteAccess() on temp dir returned error: %v", err)
	}
	if err := testWriteAccess(filepath.Join(dir, "missing")); err == nil {
		t.Error("testWriteAccess() on missing dir should return an error")
	}
}

func TestSetupOptionalDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "optional")
	if !setupOptionalDir(dir, "test") {
		t.Error("setupOptionalDir() = false for writable location")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("setupOptionalDir() did not create directory: %v", err)
	}
}

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" {
		t.Error("GetBuildInfo().Version is empty")
	}
	if info.GoVersion == "" {
		t.Error("GetBuildInfo().GoVersion is empty")
	}
}
