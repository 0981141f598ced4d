package constants

import (
	"time"
)

// Transfer engine defaults
const (
	// DefaultMaxConcurrent - number of transfers allowed to execute at once.
	// Additional submissions wait in the queue until a slot frees.
	DefaultMaxConcurrent = 2

	// MaxConcurrentCeiling - upper bound accepted from configuration.
	// Keeps a typo like "200" from spawning hundreds of workers.
	MaxConcurrentCeiling = 16

	// DefaultBandwidthLimit - global throttle in bytes/sec. 0 = unlimited.
	DefaultBandwidthLimit = 0
)

// I/O tuning
const (
	// CopyChunkSize - size of each read/write chunk for local and object
	// storage transfers (1 MB). The throttle and the pause gate are checked
	// once per chunk, so this also bounds pause/cancel latency at a given
	// bandwidth.
	CopyChunkSize = 1 * 1024 * 1024

	// ProgressFlushInterval - minimum interval between progress events
	// emitted by a backend worker for one transfer. Keeps the event bus
	// from being flooded by fast local copies.
	ProgressFlushInterval = 200 * time.Millisecond
)

// Speed smoothing
const (
	// SpeedSmoothingAlpha - EMA weight for the newest instantaneous rate
	// sample. 25% new, 75% previous: smooth display that still tracks
	// real speed changes within a few events.
	SpeedSmoothingAlpha = 0.25

	// SpeedMinSampleInterval - minimum wall-clock gap between progress
	// events for a rate sample to be taken. Below this the sample is too
	// noisy to be useful.
	SpeedMinSampleInterval = 100 * time.Millisecond
)

// Event bus sizing
const (
	// EventBusDefaultBuffer - default per-subscriber channel buffer.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - cap on per-subscriber channel buffer.
	EventBusMaxBuffer = 10000
)
