package backend

import (
	"sync"
	"testing"
)

// recordingSink captures every progress update a meter emits.
type recordingSink struct {
	mu      sync.Mutex
	updates []ProgressUpdate
}

func (s *recordingSink) Progress(id string, u ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) Terminal(id string, o Outcome) {}

func (s *recordingSink) last() (ProgressUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return ProgressUpdate{}, false
	}
	return s.updates[len(s.updates)-1], true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func TestMeterSetTotalsFlushesImmediately(t *testing.T) {
	sink := &recordingSink{}
	m := NewMeter(sink, "t1")

	m.SetTotals(1000, 3)
	u, ok := sink.last()
	if !ok {
		t.Fatal("SetTotals did not emit")
	}
	if u.BytesTotal != 1000 || u.FilesTotal != 3 {
		t.Errorf("unexpected totals %+v", u)
	}
}

func TestMeterCoalescesBytes(t *testing.T) {
	sink := &recordingSink{}
	m := NewMeter(sink, "t1")
	m.SetTotals(10000, 1)
	before := sink.count()

	// Rapid additions within the flush interval stay silent.
	for i := 0; i < 100; i++ {
		m.AddBytes(10)
	}
	if sink.count() != before {
		t.Errorf("coalescing failed: %d extra events", sink.count()-before)
	}

	// The bytes are not lost: Flush reports the accumulated counter.
	m.Flush()
	u, _ := sink.last()
	if u.BytesDone != 1000 {
		t.Errorf("expected 1000 bytes accumulated, got %d", u.BytesDone)
	}
}

func TestMeterFileDoneEmits(t *testing.T) {
	sink := &recordingSink{}
	m := NewMeter(sink, "t1")
	m.SetTotals(100, 2)

	m.FileDone()
	u, _ := sink.last()
	if u.FilesDone != 1 {
		t.Errorf("expected 1 file done, got %d", u.FilesDone)
	}
	m.FileDone()
	u, _ = sink.last()
	if u.FilesDone != 2 {
		t.Errorf("expected 2 files done, got %d", u.FilesDone)
	}
}

func TestOutcomeConstructors(t *testing.T) {
	if o := Success(); o.Kind != OutcomeSuccess || o.Message != "" {
		t.Errorf("unexpected success outcome %+v", o)
	}
	if o := Failure("disk full"); o.Kind != OutcomeError || o.Message != "disk full" {
		t.Errorf("unexpected failure outcome %+v", o)
	}
	if o := Cancelled(); o.Kind != OutcomeCancelled || o.Message != "" {
		t.Errorf("unexpected cancelled outcome %+v", o)
	}
}
