package logging

import "testing"

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestLevelOrdering(t *testing.T) {
	if LevelDebug >= LevelInfo {
		t.Error("Debug should be below Info")
	}
	if LevelInfo >= LevelWarn {
		t.Error("Info should be below Warn")
	}
	if LevelWarn >= LevelError {
		t.Error("Warn should be below Error")
	}
}

func TestGetLevelDefault(t *testing.T) {
	// Without LOG_LEVEL set the default must not be debug
	level := GetLevel()
	if level < LevelDebug || level > LevelError {
		t.Errorf("GetLevel() returned out-of-range level: %v", level)
	}
}
