package progress

import (
	"testing"
	"time"

	"github.com/ferryfm/ferry/internal/events"
)

func publish(bus *events.EventBus, eventType events.EventType, id, errMsg string) {
	bus.Publish(&events.TransferEvent{
		BaseEvent:  events.BaseEvent{EventType: eventType, Time: time.Now()},
		TransferID: id,
		Error:      errMsg,
	})
}

func waitResult(t *testing.T, r *Reporter, id string) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- r.Wait(id)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
		return nil
	}
}

func TestWaitSeesEventsPublishedBeforeWait(t *testing.T) {
	// A fast transfer can finish between submission and Wait; the
	// subscription taken at construction must capture that event.
	bus := events.NewEventBus(10)
	defer bus.Close()

	r := NewReporter(bus)
	publish(bus, events.EventTransferCompleted, "t1", "")

	if err := waitResult(t, r, "t1"); err != nil {
		t.Errorf("expected nil for completed transfer, got %v", err)
	}
}

func TestWaitReturnsFailureError(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()

	r := NewReporter(bus)
	publish(bus, events.EventTransferFailed, "t1", "disk full")

	err := waitResult(t, r, "t1")
	if err == nil || err.Error() != "disk full" {
		t.Errorf("expected failure error, got %v", err)
	}
}

func TestWaitReturnsCancellation(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()

	r := NewReporter(bus)
	publish(bus, events.EventTransferCancelled, "t1", "")

	err := waitResult(t, r, "t1")
	if err == nil || err.Error() != "transfer cancelled" {
		t.Errorf("expected cancellation error, got %v", err)
	}
}

func TestWaitIgnoresOtherTransfers(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()

	r := NewReporter(bus)
	publish(bus, events.EventTransferCompleted, "other", "")
	publish(bus, events.EventTransferCompleted, "t1", "")

	if err := waitResult(t, r, "t1"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitErrorsWhenBusCloses(t *testing.T) {
	bus := events.NewEventBus(10)
	r := NewReporter(bus)
	bus.Close()

	if err := waitResult(t, r, "t1"); err == nil {
		t.Error("expected an error when the bus closes mid-wait")
	}
}
