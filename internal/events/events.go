// Package events provides the publish/subscribe bus that carries transfer
// lifecycle notifications from the engine to whatever front end is attached
// (status bar, transfers panel, CLI progress renderer).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferryfm/ferry/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Transfer lifecycle events
	EventTransferQueued    EventType = "transfer_queued"    // Descriptor created and waiting for a slot
	EventTransferStarted   EventType = "transfer_started"   // Scheduler admitted the transfer
	EventTransferProgress  EventType = "transfer_progress"  // Byte/file counters updated
	EventTransferPaused    EventType = "transfer_paused"    // Paused by user
	EventTransferResumed   EventType = "transfer_resumed"   // Resumed by user
	EventTransferCompleted EventType = "transfer_completed" // Backend reported success
	EventTransferFailed    EventType = "transfer_failed"    // Backend reported an error
	EventTransferCancelled EventType = "transfer_cancelled" // Cancelled (user request acknowledged)
	EventTransferDismissed EventType = "transfer_dismissed" // Removed from the registry

	// EventConfigChanged - concurrency or bandwidth setting changed
	EventConfigChanged EventType = "config_changed"

	// EventPanelToggled - transfer panel visibility flipped
	EventPanelToggled EventType = "panel_toggled"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent carries a snapshot of one transfer's state at the moment
// the event was published. Error is only set for EventTransferFailed.
type TransferEvent struct {
	BaseEvent
	TransferID  string
	Kind        string // "copy", "move" or "extract"
	Status      string
	Destination string
	BytesDone   int64
	BytesTotal  int64
	FilesDone   int64
	FilesTotal  int64
	Speed       float64 // bytes/sec, EMA-smoothed
	Error       string
}

// ConfigChangedEvent is published when a persisted engine setting changes.
type ConfigChangedEvent struct {
	BaseEvent
	MaxConcurrent  int
	BandwidthLimit int64 // bytes/sec, 0 = unlimited
}

// PanelToggledEvent is published when the transfer panel visibility flips.
type PanelToggledEvent struct {
	BaseEvent
	Visible bool
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Non-blocking: if a subscriber's
// buffer is full the event is dropped for that subscriber and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
// This prevents memory leaks from abandoned subscriptions.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types,
// including the all-events list.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// DroppedEventCount returns the total number of events dropped because a
// subscriber buffer was full. Useful when sizing buffers.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
