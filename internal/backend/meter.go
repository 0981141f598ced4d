package backend

import (
	"sync"
	"time"

	"github.com/ferryfm/ferry/internal/constants"
)

// Meter accumulates byte/file counters for one executing transfer and
// forwards them to the EventSink, coalescing updates so the sink sees at
// most one progress event per ProgressFlushInterval. Flush sends the
// current counters unconditionally; call it after totals change and once
// when the transfer ends so the final counters always reach the sink.
type Meter struct {
	mu       sync.Mutex
	sink     EventSink
	id       string
	update   ProgressUpdate
	lastSent time.Time
}

// NewMeter creates a meter reporting for the given transfer ID.
func NewMeter(sink EventSink, id string) *Meter {
	return &Meter{sink: sink, id: id}
}

// SetTotals fixes the byte and file totals discovered by the scan pass and
// flushes immediately so the UI can size its progress bars.
func (m *Meter) SetTotals(bytesTotal, filesTotal int64) {
	m.mu.Lock()
	m.update.BytesTotal = bytesTotal
	m.update.FilesTotal = filesTotal
	snapshot := m.update
	m.lastSent = time.Now()
	m.mu.Unlock()

	m.sink.Progress(m.id, snapshot)
}

// AddBytes records transferred bytes and emits a coalesced progress event.
func (m *Meter) AddBytes(n int64) {
	m.mu.Lock()
	m.update.BytesDone += n
	send := time.Since(m.lastSent) >= constants.ProgressFlushInterval
	if send {
		m.lastSent = time.Now()
	}
	snapshot := m.update
	m.mu.Unlock()

	if send {
		m.sink.Progress(m.id, snapshot)
	}
}

// FileDone records one fully transferred file and emits a progress event.
func (m *Meter) FileDone() {
	m.mu.Lock()
	m.update.FilesDone++
	snapshot := m.update
	m.lastSent = time.Now()
	m.mu.Unlock()

	m.sink.Progress(m.id, snapshot)
}

// Flush sends the current counters unconditionally.
func (m *Meter) Flush() {
	m.mu.Lock()
	snapshot := m.update
	m.lastSent = time.Now()
	m.mu.Unlock()

	m.sink.Progress(m.id, snapshot)
}
