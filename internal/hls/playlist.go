package hls

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// segmentNameRe matches the on-disk segment naming scheme. Indices are
// zero-padded to three digits, so a library caps out at 1000 segments
// (100 minutes) per job.
var segmentNameRe = regexp.MustCompile(`^segment-(\d{3})\.ts$`)

// SegmentName returns the file name for a segment index.
func SegmentName(index int) string {
	return fmt.Sprintf("segment-%03d.ts", index)
}

// ParseSegmentName extracts the index from a segment file name.
// Names that don't match the scheme exactly are rejected.
func ParseSegmentName(name string) (int, error) {
	m := segmentNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("invalid segment name %q", name)
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid segment name %q", name)
	}
	return index, nil
}

// SegmentCount returns the number of segments a source of the given
// duration produces.
func SegmentCount(duration float64) int {
	if duration <= 0 {
		return 0
	}
	count := int(duration) / SegmentSeconds
	if duration > float64(count*SegmentSeconds) {
		count++
	}
	return count
}

// VodPlaylist builds a complete VOD playlist for a source of the given
// duration. Segment URIs are relative, so the playlist must be served
// from the same path prefix as the segments.
func VodPlaylist(duration float64) string {
	count := SegmentCount(duration)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", SegmentSeconds)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i := 0; i < count; i++ {
		segDuration := float64(SegmentSeconds)
		if i == count-1 {
			if rem := duration - float64(i*SegmentSeconds); rem > 0 {
				segDuration = rem
			}
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", segDuration)
		b.WriteString(SegmentName(i))
		b.WriteByte('\n')
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// LivePlaylist builds a playlist covering only the segments generated so
// far. Players poll it until the job completes, at which point the
// ENDLIST tag appears.
func LivePlaylist(ready int, complete bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", SegmentSeconds)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	if !complete {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	} else {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}

	for i := 0; i < ready; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", float64(SegmentSeconds))
		b.WriteString(SegmentName(i))
		b.WriteByte('\n')
	}

	if complete {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
