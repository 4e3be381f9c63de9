package hls

import (
	"strings"
	"testing"
)

func TestSegmentName(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "segment-000.ts"},
		{5, "segment-005.ts"},
		{42, "segment-042.ts"},
		{999, "segment-999.ts"},
	}

	for _, tt := range tests {
		if got := SegmentName(tt.index); got != tt.want {
			t.Errorf("SegmentName(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"segment-000.ts", 0, false},
		{"segment-007.ts", 7, false},
		{"segment-123.ts", 123, false},
		{"segment-12.ts", 0, true},
		{"segment-1234.ts", 0, true},
		{"segment-abc.ts", 0, true},
		{"segment-007.ts.tmp", 0, true},
		{"index.m3u8", 0, true},
		{"../segment-001.ts", 0, true},
		{"segment-001.TS", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSegmentName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSegmentName(%q) accepted invalid name", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSegmentName(%q) failed: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSegmentName(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSegmentCount(t *testing.T) {
	tests := []struct {
		duration float64
		want     int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{6, 1},
		{6.1, 2},
		{12, 2},
		{20, 4},
		{3600, 600},
	}

	for _, tt := range tests {
		if got := SegmentCount(tt.duration); got != tt.want {
			t.Errorf("SegmentCount(%v) = %d, want %d", tt.duration, got, tt.want)
		}
	}
}

func TestVodPlaylist(t *testing.T) {
	playlist := VodPlaylist(20)

	if !strings.HasPrefix(playlist, "#EXTM3U\n") {
		t.Error("playlist missing #EXTM3U header")
	}
	if !strings.Contains(playlist, "#EXT-X-TARGETDURATION:6\n") {
		t.Error("playlist missing target duration")
	}
	if !strings.Contains(playlist, "#EXT-X-PLAYLIST-TYPE:VOD\n") {
		t.Error("playlist missing VOD type")
	}
	if !strings.HasSuffix(playlist, "#EXT-X-ENDLIST\n") {
		t.Error("playlist missing ENDLIST")
	}

	// 20 seconds at 6s segments: 6 + 6 + 6 + 2
	if got := strings.Count(playlist, "#EXTINF:"); got != 4 {
		t.Errorf("playlist has %d segments, want 4", got)
	}
	for i := 0; i < 4; i++ {
		if !strings.Contains(playlist, SegmentName(i)+"\n") {
			t.Errorf("playlist missing %s", SegmentName(i))
		}
	}
	if !strings.Contains(playlist, "#EXTINF:2.000,\n"+SegmentName(3)) {
		t.Error("final segment does not carry the remainder duration")
	}
}

func TestVodPlaylistExactMultiple(t *testing.T) {
	playlist := VodPlaylist(12)

	if got := strings.Count(playlist, "#EXTINF:"); got != 2 {
		t.Errorf("playlist has %d segments, want 2", got)
	}
	if strings.Count(playlist, "#EXTINF:6.000,") != 2 {
		t.Error("exact-multiple source should have only full-length segments")
	}
}

func TestLivePlaylist(t *testing.T) {
	partial := LivePlaylist(3, false)

	if strings.Contains(partial, "#EXT-X-ENDLIST") {
		t.Error("partial playlist carries ENDLIST")
	}
	if !strings.Contains(partial, "#EXT-X-PLAYLIST-TYPE:EVENT\n") {
		t.Error("partial playlist missing EVENT type")
	}
	if got := strings.Count(partial, "#EXTINF:"); got != 3 {
		t.Errorf("partial playlist has %d segments, want 3", got)
	}

	complete := LivePlaylist(3, true)
	if !strings.Contains(complete, "#EXT-X-ENDLIST") {
		t.Error("complete playlist missing ENDLIST")
	}
}

func TestPresets(t *testing.T) {
	for _, q := range Qualities() {
		preset, err := PresetFor(q)
		if err != nil {
			t.Errorf("PresetFor(%q) failed: %v", q, err)
			continue
		}
		if preset.Width == 0 || preset.Height == 0 || preset.VideoBitrate == "" {
			t.Errorf("PresetFor(%q) returned incomplete preset: %+v", q, preset)
		}
	}

	if _, err := PresetFor(Quality("ultra")); err == nil {
		t.Error("PresetFor() accepted unknown quality")
	}
}

func TestParseQuality(t *testing.T) {
	for _, s := range []string{"high", "medium", "low"} {
		if _, err := ParseQuality(s); err != nil {
			t.Errorf("ParseQuality(%q) failed: %v", s, err)
		}
	}
	for _, s := range []string{"", "HIGH", "4k", "medium "} {
		if _, err := ParseQuality(s); err == nil {
			t.Errorf("ParseQuality(%q) accepted invalid quality", s)
		}
	}
}
