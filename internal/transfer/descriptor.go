// Package transfer implements the transfer orchestration engine: the
// registry of transfer descriptors, the queue scheduler that admits them
// under the concurrency cap, and the per-transfer progress aggregation
// consumed by the status bar and transfers panel.
package transfer

import (
	"time"

	"github.com/google/uuid"

	"github.com/ferryfm/ferry/internal/backend"
)

// Status represents the lifecycle state of a transfer.
type Status string

const (
	StatusQueued    Status = "queued"    // Waiting for an execution slot
	StatusRunning   Status = "running"   // Backend is executing
	StatusPaused    Status = "paused"    // Suspended by user; still holds its slot
	StatusCompleted Status = "completed" // Backend reported success
	StatusFailed    Status = "failed"    // Backend reported an error
	StatusCancelled Status = "cancelled" // Cancelled by user
)

// Terminal reports whether no further automatic transitions occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress holds cumulative byte and file counters for one transfer.
// It is absent (nil) until the backend has reported at least one event.
type Progress struct {
	BytesDone  int64
	BytesTotal int64
	FilesDone  int64
	FilesTotal int64
}

// Fraction returns completion as a value in [0,1], or 0 if the total is
// not yet known.
func (p Progress) Fraction() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesDone) / float64(p.BytesTotal)
}

// Transfer is the descriptor for one transfer job. ID, Kind, Sources,
// Destination and CreatedAt are fixed at creation; everything else mutates
// as the transfer progresses.
//
// Mutable fields are owned by the Registry and only touched under its lock.
// External readers always receive value copies via Clone.
type Transfer struct {
	ID          string
	Kind        backend.Kind
	Sources     []string
	Destination string
	CreatedAt   time.Time

	Status   Status
	Progress *Progress
	Speed    float64 // bytes/sec, EMA-smoothed
	Err      string  // set iff Status == StatusFailed

	StartedAt   time.Time
	CompletedAt time.Time

	// Cancel has been requested for a running/paused transfer; the status
	// stays put until the backend acknowledges with a terminal event.
	pendingCancel bool

	// Rate sampling internals
	lastBytes  int64
	lastUpdate time.Time
}

func newTransfer(kind backend.Kind, sources []string, destination string) *Transfer {
	srcs := make([]string, len(sources))
	copy(srcs, sources)
	return &Transfer{
		ID:          uuid.New().String(),
		Kind:        kind,
		Sources:     srcs,
		Destination: destination,
		CreatedAt:   time.Now(),
		Status:      StatusQueued,
	}
}

// Clone returns a value copy safe to hand outside the registry.
func (t *Transfer) Clone() Transfer {
	c := *t
	c.Sources = make([]string, len(t.Sources))
	copy(c.Sources, t.Sources)
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	return c
}

// ETA returns the estimated remaining duration. ok is false when the rate
// is zero or no progress has been reported yet.
func (t Transfer) ETA() (eta time.Duration, ok bool) {
	if t.Progress == nil || t.Speed <= 0 {
		return 0, false
	}
	remaining := t.Progress.BytesTotal - t.Progress.BytesDone
	if remaining < 0 {
		remaining = 0
	}
	secs := float64(remaining) / t.Speed
	return time.Duration(secs * float64(time.Second)), true
}
