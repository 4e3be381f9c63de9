package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"media-server/internal/logging"
)

// probeTimeout bounds a single ffprobe invocation.
const probeTimeout = 30 * time.Second

// ProbeResult holds the stream metadata extracted from a video file.
type ProbeResult struct {
	Duration float64
	Codec    string
	Width    int
	Height   int
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe against a video file.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if parsed.Format.Duration != "" {
		duration, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err != nil {
			logging.Debug("Unparseable duration %q for %s", parsed.Format.Duration, path)
		} else {
			result.Duration = duration
		}
	}

	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			result.Codec = stream.CodecName
			result.Width = stream.Width
			result.Height = stream.Height
			break
		}
	}

	if result.Duration <= 0 {
		return nil, fmt.Errorf("no duration in ffprobe output for %s", path)
	}
	return result, nil
}
