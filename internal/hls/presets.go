package hls

import "fmt"

// Quality identifies one of the fixed transcode quality levels.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// SegmentSeconds is the target duration of every HLS segment.
const SegmentSeconds = 6

// Preset holds the ffmpeg encode parameters for one quality level.
type Preset struct {
	Quality      Quality
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
}

var presets = map[Quality]Preset{
	QualityHigh: {
		Quality:      QualityHigh,
		Width:        1920,
		Height:       1080,
		VideoBitrate: "5000k",
		AudioBitrate: "192k",
	},
	QualityMedium: {
		Quality:      QualityMedium,
		Width:        1280,
		Height:       720,
		VideoBitrate: "2500k",
		AudioBitrate: "128k",
	},
	QualityLow: {
		Quality:      QualityLow,
		Width:        854,
		Height:       480,
		VideoBitrate: "1000k",
		AudioBitrate: "96k",
	},
}

// ParseQuality validates a client-supplied quality string.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if _, ok := presets[q]; !ok {
		return "", fmt.Errorf("unknown quality %q", s)
	}
	return q, nil
}

// PresetFor returns the encode preset for a quality level.
func PresetFor(q Quality) (Preset, error) {
	p, ok := presets[q]
	if !ok {
		return Preset{}, fmt.Errorf("unknown quality %q", q)
	}
	return p, nil
}

// Qualities returns all known quality levels.
func Qualities() []Quality {
	return []Quality{QualityHigh, QualityMedium, QualityLow}
}
