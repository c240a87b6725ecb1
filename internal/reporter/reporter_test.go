package reporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goyais/worker/pkg/protocol"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]protocol.Event
	fail    int // how many upcoming sends fail
}

func (f *fakeSender) SendEvents(ctx context.Context, executionID string, events []protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("hub unavailable")
	}
	batch := make([]protocol.Event, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSender) sent() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []protocol.Event
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func testExecution() *protocol.Execution {
	return &protocol.Execution{
		ID:             "exec-1",
		ConversationID: "conv-1",
		TraceID:        "tr_worker_exec-1",
		QueueIndex:     2,
	}
}

func TestReportStampsEvents(t *testing.T) {
	r := New(&fakeSender{}, testExecution())

	first := r.Report(protocol.EventExecutionStarted, map[string]any{"mode": "agent"})
	second := r.Report(protocol.EventThinkingDelta, nil)

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}
	if first.EventID != "evt_exec-1_1" {
		t.Errorf("EventID = %q", first.EventID)
	}
	if first.ExecutionID != "exec-1" || first.ConversationID != "conv-1" {
		t.Errorf("metadata = %+v", first)
	}
	if first.QueueIndex != 2 || first.TraceID != "tr_worker_exec-1" {
		t.Errorf("metadata = %+v", first)
	}
	if _, err := time.Parse(time.RFC3339, first.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", first.Timestamp, err)
	}
	if second.Payload == nil {
		t.Error("nil payload not defaulted to empty map")
	}
}

func TestFlushPostsAndClears(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, testExecution())

	r.Report(protocol.EventExecutionStarted, nil)
	r.Report(protocol.EventExecutionDone, nil)
	r.flush()

	if got := r.depth(); got != 0 {
		t.Errorf("depth after flush = %d", got)
	}
	all := sender.sent()
	if len(all) != 2 {
		t.Fatalf("sent %d events, want 2", len(all))
	}
	if all[0].Sequence != 1 || all[1].Sequence != 2 {
		t.Errorf("sent order = %d, %d", all[0].Sequence, all[1].Sequence)
	}
}

func TestFailedFlushRequeuesInOrder(t *testing.T) {
	sender := &fakeSender{fail: 1}
	r := New(sender, testExecution())

	r.Report(protocol.EventExecutionStarted, nil)
	r.Report(protocol.EventThinkingDelta, nil)
	r.flush() // fails, batch returns to the front

	r.Report(protocol.EventExecutionDone, nil)
	r.flush()

	all := sender.sent()
	if len(all) != 3 {
		t.Fatalf("sent %d events, want 3", len(all))
	}
	for i, ev := range all {
		if ev.Sequence != i+1 {
			t.Errorf("position %d has sequence %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	r := New(&fakeSender{}, testExecution())

	for i := 0; i < ringCapacity+5; i++ {
		r.Report(protocol.EventThinkingDelta, nil)
	}
	if got := r.depth(); got != ringCapacity {
		t.Fatalf("depth = %d, want %d", got, ringCapacity)
	}
	r.mu.Lock()
	oldest := r.buffer[0].Sequence
	r.mu.Unlock()
	if oldest != 6 {
		t.Errorf("oldest sequence = %d, want 6", oldest)
	}
}

func TestRequeueOverflowKeepsNewest(t *testing.T) {
	sender := &fakeSender{fail: 1}
	r := New(sender, testExecution())

	for i := 0; i < ringCapacity; i++ {
		r.Report(protocol.EventThinkingDelta, nil)
	}
	r.flush() // fails; requeue meets fresh events below

	for i := 0; i < 10; i++ {
		r.Report(protocol.EventThinkingDelta, nil)
	}
	if got := r.depth(); got != ringCapacity {
		t.Fatalf("depth = %d, want %d", got, ringCapacity)
	}

	r.mu.Lock()
	first, last := r.buffer[0].Sequence, r.buffer[len(r.buffer)-1].Sequence
	r.mu.Unlock()
	if first != 11 || last != ringCapacity+10 {
		t.Errorf("window = [%d, %d], want [11, %d]", first, last, ringCapacity+10)
	}
}

func TestDeepBufferKicksFlusher(t *testing.T) {
	r := New(&fakeSender{}, testExecution())

	for i := 0; i < flushThreshold; i++ {
		r.Report(protocol.EventThinkingDelta, nil)
	}
	select {
	case <-r.kick:
	default:
		t.Error("no flush kick after deep buffer")
	}
}

func TestStopDrains(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, testExecution())
	r.Start()

	r.Report(protocol.EventExecutionStarted, nil)
	r.Report(protocol.EventExecutionDone, nil)
	r.Stop()

	if got := r.depth(); got != 0 {
		t.Errorf("depth after Stop = %d", got)
	}
	if len(sender.sent()) != 2 {
		t.Errorf("sent %d events, want 2", len(sender.sent()))
	}

	// Second Stop is a no-op.
	r.Stop()
}

func TestStopRetriesFailedDrain(t *testing.T) {
	sender := &fakeSender{fail: 1}
	r := New(sender, testExecution())
	r.Start()

	r.Report(protocol.EventExecutionError, nil)
	r.Stop()

	all := sender.sent()
	if len(all) != 1 || all[0].Type != protocol.EventExecutionError {
		t.Errorf("sent = %+v, want the terminal event after retry", all)
	}
}
