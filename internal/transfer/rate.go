package transfer

import (
	"time"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/constants"
)

// applyProgress folds one backend progress update into the descriptor and
// recomputes the smoothed transfer rate. Called under the registry lock.
//
// Smoothing: exponential moving average with alpha = SpeedSmoothingAlpha.
// Each sample is bytes-delta over wall-delta since the previous accepted
// sample; samples closer together than SpeedMinSampleInterval are folded
// into the next one. An update that moves no bytes decays the rate by
// (1 - alpha), so the displayed speed converges to zero while a transfer
// stalls. For a fixed sequence of (update, now) pairs the result is
// deterministic.
func (t *Transfer) applyProgress(u backend.ProgressUpdate, now time.Time) {
	// Enforce counter invariants regardless of what the backend sent.
	if u.BytesTotal > 0 && u.BytesDone > u.BytesTotal {
		u.BytesDone = u.BytesTotal
	}
	if u.FilesTotal > 0 && u.FilesDone > u.FilesTotal {
		u.FilesDone = u.FilesTotal
	}

	first := t.Progress == nil
	t.Progress = &Progress{
		BytesDone:  u.BytesDone,
		BytesTotal: u.BytesTotal,
		FilesDone:  u.FilesDone,
		FilesTotal: u.FilesTotal,
	}

	if first {
		t.lastBytes = u.BytesDone
		t.lastUpdate = now
		t.Speed = 0
		return
	}

	delta := u.BytesDone - t.lastBytes
	if delta < 0 {
		// Counters went backwards; keep the reported value but leave the
		// rate untouched rather than producing a negative sample.
		t.lastBytes = u.BytesDone
		t.lastUpdate = now
		return
	}

	elapsed := now.Sub(t.lastUpdate)
	if elapsed < constants.SpeedMinSampleInterval {
		return
	}

	if delta == 0 {
		t.Speed *= 1 - constants.SpeedSmoothingAlpha
		t.lastUpdate = now
		return
	}

	instant := float64(delta) / elapsed.Seconds()
	if t.Speed > 0 {
		t.Speed = constants.SpeedSmoothingAlpha*instant + (1-constants.SpeedSmoothingAlpha)*t.Speed
	} else {
		t.Speed = instant
	}
	t.lastBytes = u.BytesDone
	t.lastUpdate = now
}

// finalizeProgress pins the counters at their totals when a transfer
// completes successfully.
func (t *Transfer) finalizeProgress() {
	if t.Progress == nil {
		return
	}
	if t.Progress.BytesTotal > 0 {
		t.Progress.BytesDone = t.Progress.BytesTotal
	}
	if t.Progress.FilesTotal > 0 {
		t.Progress.FilesDone = t.Progress.FilesTotal
	}
}
