package transfer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/constants"
	"github.com/ferryfm/ferry/internal/events"
	"github.com/ferryfm/ferry/internal/logging"
)

// SettingsStore persists the engine settings that survive restarts.
// The transfer list itself is session-only and never persisted.
type SettingsStore interface {
	Persist(maxConcurrent int, bandwidthLimitBytesPerSec int64, showPanel bool) error
}

// Registry owns every transfer descriptor for the application session and
// drives their lifecycle: submission, queue admission under the concurrency
// cap, pause/resume/cancel, progress aggregation and dismissal.
//
// All mutation happens under one lock; backend calls and event publication
// happen outside it. The registry performs no I/O itself - it instructs the
// backend and consumes the events the backend reports back through the
// EventSink methods Progress and Terminal.
type Registry struct {
	mu    sync.RWMutex
	list  []*Transfer          // All descriptors, creation order (oldest first)
	byID  map[string]*Transfer // Index for lookups
	queue []string             // Queued IDs in admission order

	maxConcurrent  int
	bandwidthLimit int64 // bytes/sec, 0 = unlimited
	panelVisible   bool

	exec  backend.Backend
	bus   *events.EventBus
	store SettingsStore
	log   *logging.Logger
}

// Options configures a Registry.
type Options struct {
	Backend backend.Backend  // Required
	Bus     *events.EventBus // Optional; nil disables event publication
	Store   SettingsStore    // Optional; nil disables settings persistence
	Log     *logging.Logger  // Optional; defaults to a no-op logger

	MaxConcurrent  int   // Defaults to constants.DefaultMaxConcurrent
	BandwidthLimit int64 // bytes/sec, 0 = unlimited
	PanelVisible   bool  // Restored transfer panel visibility
}

// NewRegistry creates a registry and pushes the initial bandwidth limit to
// the backend so restored settings apply before the first transfer.
func NewRegistry(opts Options) *Registry {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 || maxConcurrent > constants.MaxConcurrentCeiling {
		maxConcurrent = constants.DefaultMaxConcurrent
	}
	bandwidth := opts.BandwidthLimit
	if bandwidth < 0 {
		bandwidth = 0
	}
	logger := opts.Log
	if logger == nil {
		logger = logging.Nop()
	}

	r := &Registry{
		byID:           make(map[string]*Transfer),
		maxConcurrent:  maxConcurrent,
		bandwidthLimit: bandwidth,
		panelVisible:   opts.PanelVisible,
		exec:           opts.Backend,
		bus:            opts.Bus,
		store:          opts.Store,
		log:            logger,
	}
	if r.exec != nil {
		r.exec.SetBandwidthLimit(bandwidth)
	}
	return r
}

// AttachBackend sets the executor after construction. Needed because the
// backend reports into the registry (its event sink), so the two are built
// in sequence. Must be called before the first Submit. The current
// bandwidth limit is pushed so restored settings reach the new backend.
func (r *Registry) AttachBackend(b backend.Backend) {
	r.mu.Lock()
	r.exec = b
	bandwidth := r.bandwidthLimit
	r.mu.Unlock()
	b.SetBandwidthLimit(bandwidth)
}

// Submit creates a descriptor in queued state and immediately runs the
// admission check. Returns the new transfer's ID.
//
// The only synchronous failure is an empty source list; in that case no
// descriptor is created.
func (r *Registry) Submit(kind backend.Kind, sources []string, destination string) (string, error) {
	if len(sources) == 0 {
		return "", ErrNoSources
	}

	t := newTransfer(kind, sources, destination)

	r.mu.Lock()
	r.list = append(r.list, t)
	r.byID[t.ID] = t
	r.queue = append(r.queue, t.ID)
	r.panelVisible = true // a new transfer always reveals the panel
	admitted := r.processQueueLocked()
	r.mu.Unlock()

	r.publish(events.EventTransferQueued, t.Clone())
	r.startAdmitted(admitted)
	return t.ID, nil
}

// Pause suspends a running transfer. The status flips immediately; the
// backend signal follows. A backend rejection is reconciled through the
// failed path since the UI has already shown the transfer as paused.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransfer
	}
	if t.Status != StatusRunning || t.pendingCancel {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	t.Status = StatusPaused
	snap := t.Clone()
	r.mu.Unlock()

	r.publish(events.EventTransferPaused, snap)
	if err := r.exec.Pause(id); err != nil {
		r.log.Warnf("backend rejected pause for %s: %v", id, err)
		r.reconcileControlFailure(id, fmt.Errorf("pause rejected: %w", err))
	}
	return nil
}

// Resume continues a paused transfer. Paused transfers retain their
// execution slot, so resuming bypasses the admission queue entirely.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransfer
	}
	if t.Status != StatusPaused || t.pendingCancel {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	t.Status = StatusRunning
	snap := t.Clone()
	r.mu.Unlock()

	r.publish(events.EventTransferResumed, snap)
	if err := r.exec.Resume(id); err != nil {
		r.log.Warnf("backend rejected resume for %s: %v", id, err)
		r.reconcileControlFailure(id, fmt.Errorf("resume rejected: %w", err))
	}
	return nil
}

// Cancel requests cancellation.
//
// A queued transfer is removed synchronously and locally - the backend never
// hears about it since it was never started. A running or paused transfer
// keeps its current status until the backend acknowledges with a terminal
// cancelled event; a repeated Cancel while that is pending is a no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransfer
	}

	switch {
	case t.Status == StatusQueued:
		r.removeLocked(id)
		t.Status = StatusCancelled
		t.CompletedAt = time.Now()
		snap := t.Clone()
		r.mu.Unlock()
		r.publish(events.EventTransferCancelled, snap)
		return nil

	case t.Status == StatusRunning || t.Status == StatusPaused:
		if t.pendingCancel {
			r.mu.Unlock()
			return nil
		}
		t.pendingCancel = true
		r.mu.Unlock()
		if err := r.exec.Cancel(id); err != nil {
			r.log.Warnf("backend rejected cancel for %s: %v", id, err)
			r.reconcileControlFailure(id, fmt.Errorf("cancel rejected: %w", err))
		}
		return nil

	default:
		r.mu.Unlock()
		return ErrInvalidTransition
	}
}

// MoveUp swaps a queued transfer with its predecessor in the admission
// order. Only the queued subsequence is affected; creation order and
// running transfers never change.
func (r *Registry) MoveUp(id string) error {
	return r.reorder(id, -1)
}

// MoveDown swaps a queued transfer with its successor in the admission order.
func (r *Registry) MoveDown(id string) error {
	return r.reorder(id, +1)
}

func (r *Registry) reorder(id string, dir int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return ErrUnknownTransfer
	}
	if t.Status != StatusQueued {
		return ErrNotQueued
	}
	for i, qid := range r.queue {
		if qid != id {
			continue
		}
		j := i + dir
		if j < 0 || j >= len(r.queue) {
			return nil // already at the edge
		}
		r.queue[i], r.queue[j] = r.queue[j], r.queue[i]
		return nil
	}
	return ErrNotQueued
}

// Dismiss removes a finished transfer from the registry.
func (r *Registry) Dismiss(id string) error {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTransfer
	}
	if !t.Status.Terminal() {
		r.mu.Unlock()
		return ErrNotTerminal
	}
	r.removeLocked(id)
	snap := t.Clone()
	r.mu.Unlock()

	r.publish(events.EventTransferDismissed, snap)
	return nil
}

// DismissCompleted removes every completed, failed and cancelled transfer.
func (r *Registry) DismissCompleted() {
	r.mu.Lock()
	var removed []Transfer
	kept := r.list[:0]
	for _, t := range r.list {
		if t.Status.Terminal() {
			delete(r.byID, t.ID)
			removed = append(removed, t.Clone())
		} else {
			kept = append(kept, t)
		}
	}
	r.list = kept
	r.mu.Unlock()

	for _, snap := range removed {
		r.publish(events.EventTransferDismissed, snap)
	}
}

// Progress implements backend.EventSink. Updates for unknown, queued or
// already-finished transfers are ignored (late delivery is expected).
func (r *Registry) Progress(id string, update backend.ProgressUpdate) {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok || t.Status.Terminal() || t.Status == StatusQueued {
		r.mu.Unlock()
		return
	}
	t.applyProgress(update, time.Now())
	snap := t.Clone()
	r.mu.Unlock()

	r.publish(events.EventTransferProgress, snap)
}

// Terminal implements backend.EventSink. A duplicate terminal event for an
// already-finished transfer is a no-op, so delivery is idempotent. Whenever
// a slot frees, the scheduler immediately admits the next queued transfer.
func (r *Registry) Terminal(id string, outcome backend.Outcome) {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok || t.Status.Terminal() {
		r.mu.Unlock()
		return
	}

	var eventType events.EventType
	switch outcome.Kind {
	case backend.OutcomeSuccess:
		t.Status = StatusCompleted
		t.finalizeProgress()
		eventType = events.EventTransferCompleted
	case backend.OutcomeError:
		t.Status = StatusFailed
		t.Err = outcome.Message
		eventType = events.EventTransferFailed
	case backend.OutcomeCancelled:
		t.Status = StatusCancelled
		eventType = events.EventTransferCancelled
	}
	t.Speed = 0
	t.pendingCancel = false
	t.CompletedAt = time.Now()
	r.dequeueLocked(id) // defensive: terminal for a never-admitted id
	snap := t.Clone()
	admitted := r.processQueueLocked()
	r.mu.Unlock()

	r.publish(eventType, snap)
	r.startAdmitted(admitted)
}

// reconcileControlFailure handles a backend that rejected a pause, resume
// or cancel signal after the UI already reflected the action: the transfer
// moves to failed with the rejection recorded.
func (r *Registry) reconcileControlFailure(id string, err error) {
	r.Terminal(id, backend.Failure(err.Error()))
}

// processQueueLocked admits queued transfers while capacity remains.
// Paused transfers hold their slot, so capacity counts running and paused.
// Caller must hold the lock; returned snapshots must be handed to
// startAdmitted after unlocking.
func (r *Registry) processQueueLocked() []Transfer {
	var admitted []Transfer
	for len(r.queue) > 0 && r.occupiedLocked() < r.maxConcurrent {
		id := r.queue[0]
		r.queue = r.queue[1:]
		t, ok := r.byID[id]
		if !ok || t.Status != StatusQueued {
			continue
		}
		t.Status = StatusRunning
		t.StartedAt = time.Now()
		admitted = append(admitted, t.Clone())
	}
	return admitted
}

func (r *Registry) occupiedLocked() int {
	n := 0
	for _, t := range r.list {
		if t.Status == StatusRunning || t.Status == StatusPaused {
			n++
		}
	}
	return n
}

// startAdmitted instructs the backend to begin execution for each freshly
// admitted transfer, passing the bandwidth limit current at admission time.
// A synchronous start failure moves the transfer to failed, which in turn
// frees the slot and admits the next candidate.
func (r *Registry) startAdmitted(admitted []Transfer) {
	for _, snap := range admitted {
		r.publish(events.EventTransferStarted, snap)

		req := backend.StartRequest{
			ID:             snap.ID,
			Kind:           snap.Kind,
			Sources:        snap.Sources,
			Destination:    snap.Destination,
			BandwidthLimit: r.BandwidthLimit(),
		}
		if err := r.exec.Start(req); err != nil {
			r.log.Errorf("backend failed to start %s: %v", snap.ID, err)
			r.Terminal(snap.ID, backend.Failure(err.Error()))
		}
	}
}

// removeLocked deletes a descriptor from the list, index and queue.
func (r *Registry) removeLocked(id string) {
	delete(r.byID, id)
	for i, t := range r.list {
		if t.ID == id {
			r.list = append(r.list[:i], r.list[i+1:]...)
			break
		}
	}
	r.dequeueLocked(id)
}

func (r *Registry) dequeueLocked(id string) {
	for i, qid := range r.queue {
		if qid == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
}

func (r *Registry) publish(eventType events.EventType, snap Transfer) {
	if r.bus == nil {
		return
	}
	ev := &events.TransferEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		TransferID:  snap.ID,
		Kind:        string(snap.Kind),
		Status:      string(snap.Status),
		Destination: snap.Destination,
		Speed:       snap.Speed,
		Error:       snap.Err,
	}
	if snap.Progress != nil {
		ev.BytesDone = snap.Progress.BytesDone
		ev.BytesTotal = snap.Progress.BytesTotal
		ev.FilesDone = snap.Progress.FilesDone
		ev.FilesTotal = snap.Progress.FilesTotal
	}
	r.bus.Publish(ev)
}

var _ backend.EventSink = (*Registry)(nil)

// --- Read-only views ---

// Transfers returns value copies of every descriptor in creation order.
func (r *Registry) Transfers() []Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transfer, len(r.list))
	for i, t := range r.list {
		out[i] = t.Clone()
	}
	return out
}

// Get returns one descriptor by ID.
func (r *Registry) Get(id string) (Transfer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return Transfer{}, false
	}
	return t.Clone(), true
}

// Active returns the running transfers in creation order.
func (r *Registry) Active() []Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Transfer
	for _, t := range r.list {
		if t.Status == StatusRunning {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Queued returns the queued transfers in admission order.
func (r *Registry) Queued() []Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Transfer
	for _, id := range r.queue {
		if t, ok := r.byID[id]; ok && t.Status == StatusQueued {
			out = append(out, t.Clone())
		}
	}
	return out
}

// HasActive reports whether any transfer is currently running.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.list {
		if t.Status == StatusRunning {
			return true
		}
	}
	return false
}

// Stats holds per-status descriptor counts.
type Stats struct {
	Queued    int
	Running   int
	Paused    int
	Completed int
	Failed    int
	Cancelled int
}

// Total returns the number of descriptors in the registry.
func (s Stats) Total() int {
	return s.Queued + s.Running + s.Paused + s.Completed + s.Failed + s.Cancelled
}

// Stats returns current per-status counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	var s Stats
	for _, t := range r.list {
		switch t.Status {
		case StatusQueued:
			s.Queued++
		case StatusRunning:
			s.Running++
		case StatusPaused:
			s.Paused++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// AggregatePercent returns combined completion across running and paused
// transfers as a percentage in [0,100], weighted by each transfer's byte
// total. Transfers that have not reported progress yet are excluded rather
// than counted as zero.
func (r *Registry) AggregatePercent() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var done, total int64
	for _, t := range r.list {
		if t.Status != StatusRunning && t.Status != StatusPaused {
			continue
		}
		if t.Progress == nil || t.Progress.BytesTotal <= 0 {
			continue
		}
		done += t.Progress.BytesDone
		total += t.Progress.BytesTotal
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(done) / float64(total)
}

// AggregateSummary returns a one-line synthesis for the status bar, e.g.
// "2 active, 1 queued (2 copy, 1 extract)".
func (r *Registry) AggregateSummary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.statsLocked()
	active := s.Running + s.Paused
	if active == 0 && s.Queued == 0 {
		return "no transfers"
	}

	byKind := make(map[backend.Kind]int)
	for _, t := range r.list {
		if t.Status.Terminal() {
			continue
		}
		byKind[t.Kind]++
	}
	var kinds []string
	for _, k := range []backend.Kind{backend.KindCopy, backend.KindMove, backend.KindExtract} {
		if n := byKind[k]; n > 0 {
			kinds = append(kinds, fmt.Sprintf("%d %s", n, k))
		}
	}

	return fmt.Sprintf("%d active, %d queued (%s)", active, s.Queued, strings.Join(kinds, ", "))
}

// PanelVisible reports the transfer panel visibility flag.
func (r *Registry) PanelVisible() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.panelVisible
}

// TogglePanel flips the transfer panel visibility and returns the new value.
// The new state is persisted so it restores on the next startup.
func (r *Registry) TogglePanel() bool {
	r.mu.Lock()
	r.panelVisible = !r.panelVisible
	visible := r.panelVisible
	r.mu.Unlock()

	r.persistSettings()
	if r.bus != nil {
		r.bus.Publish(&events.PanelToggledEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventPanelToggled, Time: time.Now()},
			Visible:   visible,
		})
	}
	return visible
}

// --- Settings ---

// MaxConcurrent returns the admission cap.
func (r *Registry) MaxConcurrent() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxConcurrent
}

// SetMaxConcurrent changes the admission cap. Raising it immediately
// backfills freed capacity from the queue; lowering it never preempts
// transfers that are already running.
func (r *Registry) SetMaxConcurrent(n int) error {
	if n < 1 || n > constants.MaxConcurrentCeiling {
		return ErrInvalidConcurrency
	}

	r.mu.Lock()
	raised := n > r.maxConcurrent
	r.maxConcurrent = n
	var admitted []Transfer
	if raised {
		admitted = r.processQueueLocked()
	}
	r.mu.Unlock()

	r.persistSettings()
	r.publishConfigChanged()
	r.startAdmitted(admitted)
	return nil
}

// BandwidthLimit returns the global throttle in bytes/sec (0 = unlimited).
func (r *Registry) BandwidthLimit() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bandwidthLimit
}

// SetBandwidthLimit changes the global throttle and pushes it to the
// backend. The push is fire-and-forget: it reaches ongoing chunks on a
// best-effort basis, and every transfer admitted afterwards receives the
// new value at start.
func (r *Registry) SetBandwidthLimit(bytesPerSec int64) error {
	if bytesPerSec < 0 {
		return ErrInvalidBandwidth
	}

	r.mu.Lock()
	r.bandwidthLimit = bytesPerSec
	r.mu.Unlock()

	r.exec.SetBandwidthLimit(bytesPerSec)
	r.persistSettings()
	r.publishConfigChanged()
	return nil
}

func (r *Registry) persistSettings() {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	maxConcurrent := r.maxConcurrent
	bandwidth := r.bandwidthLimit
	visible := r.panelVisible
	r.mu.RUnlock()
	if err := r.store.Persist(maxConcurrent, bandwidth, visible); err != nil {
		r.log.Warnf("failed to persist engine settings: %v", err)
	}
}

func (r *Registry) publishConfigChanged() {
	if r.bus == nil {
		return
	}
	r.mu.RLock()
	ev := &events.ConfigChangedEvent{
		BaseEvent:      events.BaseEvent{EventType: events.EventConfigChanged, Time: time.Now()},
		MaxConcurrent:  r.maxConcurrent,
		BandwidthLimit: r.bandwidthLimit,
	}
	r.mu.RUnlock()
	r.bus.Publish(ev)
}
