// Package backend defines the contract between the transfer registry and
// the I/O executors that actually move bytes. The registry never performs
// I/O itself: it hands a StartRequest to a Backend and consumes the
// progress and terminal events the backend reports through its EventSink.
package backend

// Kind identifies the operation a transfer performs.
type Kind string

const (
	KindCopy    Kind = "copy"
	KindMove    Kind = "move"
	KindExtract Kind = "extract"
)

// StartRequest describes one transfer handed to a backend for execution.
type StartRequest struct {
	ID             string   // Registry-assigned transfer ID; events are keyed by it
	Kind           Kind     // copy, move or extract
	Sources        []string // One or more source paths
	Destination    string   // Single destination path
	BandwidthLimit int64    // Global limit in bytes/sec at admission time, 0 = unlimited
}

// ProgressUpdate is one progress report from an executing transfer.
// Totals are fixed once scanning finishes; done counters are cumulative.
type ProgressUpdate struct {
	BytesDone  int64
	BytesTotal int64
	FilesDone  int64
	FilesTotal int64
}

// OutcomeKind classifies how a transfer ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeError
	OutcomeCancelled
)

// Outcome is the terminal report for a transfer.
type Outcome struct {
	Kind    OutcomeKind
	Message string // Set only for OutcomeError
}

// Success returns a success outcome.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Failure returns an error outcome carrying the message.
func Failure(msg string) Outcome { return Outcome{Kind: OutcomeError, Message: msg} }

// Cancelled returns a cancelled-acknowledgment outcome.
func Cancelled() Outcome { return Outcome{Kind: OutcomeCancelled} }

// EventSink receives asynchronous reports from executing transfers.
// The registry implements this. Implementations must tolerate events for
// unknown or already-terminal IDs (late and duplicate delivery).
type EventSink interface {
	Progress(id string, update ProgressUpdate)
	Terminal(id string, outcome Outcome)
}

// Backend executes transfers. Start returns once execution has been
// accepted; completion is reported through the EventSink. Pause, Resume and
// Cancel are control signals for an already-started transfer; Cancel is
// acknowledged with a terminal cancelled event, not a return value.
type Backend interface {
	Start(req StartRequest) error
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error

	// SetBandwidthLimit pushes the global throttle value. Fire-and-forget:
	// it applies to ongoing and future chunks on a best-effort basis.
	SetBandwidthLimit(bytesPerSec int64)
}
