// Package reporter delivers execution events to the hub in order. Events get
// a per-execution monotonic sequence at enqueue time and sit in a bounded
// ring buffer until a background flusher posts them in batches; failed
// batches return to the front of the buffer so relative order survives
// retries.
package reporter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goyais/worker/pkg/protocol"
)

const (
	// ringCapacity bounds unsent events. Overflow drops the oldest: the hub
	// is authoritative and the terminal event carries the outcome, so gaps
	// under sustained overflow are acceptable.
	ringCapacity = 1000

	// flushThreshold triggers an immediate flush when the buffer gets deep.
	flushThreshold = 50

	flushInterval = 100 * time.Millisecond
	drainPause    = 50 * time.Millisecond
	drainRounds   = 2
)

// BatchSender posts one event batch. *hub.Client satisfies it.
type BatchSender interface {
	SendEvents(ctx context.Context, executionID string, events []protocol.Event) error
}

// Reporter owns the outbound event stream of one execution.
type Reporter struct {
	sender      BatchSender
	executionID string
	convID      string
	traceID     string
	queueIndex  int

	mu     sync.Mutex
	seq    int
	buffer []protocol.Event

	interval time.Duration
	kick     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a reporter for one claimed execution. Call Start to launch the
// flusher and Stop to drain it.
func New(sender BatchSender, exec *protocol.Execution) *Reporter {
	return &Reporter{
		sender:      sender,
		executionID: exec.EffectiveID(),
		convID:      exec.ConversationID,
		traceID:     exec.TraceID,
		queueIndex:  exec.QueueIndex,
		interval:    flushInterval,
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the background flusher.
func (r *Reporter) Start() {
	go r.flushLoop()
}

// Report enqueues one event and returns it as stamped. Deep buffers nudge
// the flusher instead of blocking the caller on hub I/O.
func (r *Reporter) Report(eventType string, payload map[string]any) protocol.Event {
	if payload == nil {
		payload = map[string]any{}
	}

	r.mu.Lock()
	r.seq++
	event := protocol.Event{
		EventID:        protocol.EventID(r.executionID, r.seq),
		ExecutionID:    r.executionID,
		ConversationID: r.convID,
		TraceID:        r.traceID,
		Sequence:       r.seq,
		QueueIndex:     r.queueIndex,
		Type:           eventType,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Payload:        payload,
	}
	if len(r.buffer) >= ringCapacity {
		r.buffer = r.buffer[1:]
	}
	r.buffer = append(r.buffer, event)
	depth := len(r.buffer)
	r.mu.Unlock()

	if depth >= flushThreshold {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
	return event
}

// Stop cancels the flusher and drains the buffer with bounded retries. Safe
// to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done

		for round := 0; round < drainRounds; round++ {
			if r.depth() == 0 {
				return
			}
			r.flush()
			time.Sleep(drainPause)
		}
	})
}

func (r *Reporter) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		case <-r.kick:
		}
		r.flush()
	}
}

// flush drains the buffer into a local batch and posts it. A failed post
// puts the whole batch back at the front, before anything reported since,
// and the ring policy drops the oldest if that overflows.
func (r *Reporter) flush() {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if err := r.sender.SendEvents(context.Background(), r.executionID, batch); err != nil {
		slog.Warn("reporter.flush_failed", "execution_id", r.executionID, "events", len(batch), "error", err)
		r.requeueFront(batch)
	}
}

func (r *Reporter) requeueFront(batch []protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	combined := append(batch, r.buffer...)
	if overflow := len(combined) - ringCapacity; overflow > 0 {
		combined = combined[overflow:]
	}
	r.buffer = combined
}

func (r *Reporter) depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
