package hls

import "time"

// State is the lifecycle state of a transcode job. A pair with no job
// and no manifest is idle.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// job tracks one transcode. All fields except id, key, dir, sourcePath,
// duration and expected are guarded by the engine mutex.
//
// ready only ever grows, and counts contiguous segments from index 0.
// notify is closed and replaced on every publication; waiters grab the
// current channel under the lock and block on it outside.
type job struct {
	id         string
	key        jobKey
	dir        string
	sourcePath string
	duration   float64
	expected   int

	state        State
	ready        int
	err          error
	stalled      bool
	lastProgress time.Time
	notify       chan struct{}
	process      Process
}
