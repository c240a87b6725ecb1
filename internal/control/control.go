// Package control watches the hub's per-execution control channel. A single
// background poll loop long-polls for commands and flips a cancellation flag
// the engine checks between suspension points.
package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goyais/worker/internal/hub"
	"github.com/goyais/worker/pkg/protocol"
)

const (
	// pollWaitMS is the server-side wait passed on every long poll.
	pollWaitMS = 2000

	// errorRetryDelay spaces retries after a failed poll.
	errorRetryDelay = 500 * time.Millisecond
)

// Poller long-polls one execution's control channel. *hub.Client satisfies
// it.
type Poller interface {
	PollControl(ctx context.Context, executionID string, afterSeq, waitMS int) (*protocol.ControlPollResponse, error)
}

// Watcher tracks stop commands for one claimed execution.
type Watcher struct {
	poller      Poller
	executionID string
	retryDelay  time.Duration

	afterSeq  int
	cancelled atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher builds a watcher for one execution. Call Start to begin
// polling.
func NewWatcher(poller Poller, executionID string) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		poller:      poller,
		executionID: executionID,
		retryDelay:  errorRetryDelay,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start launches the poll loop.
func (w *Watcher) Start() {
	go w.pollLoop()
}

// Stop ends the poll loop and waits for it to exit. Safe to call more than
// once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

// IsCancelled reports whether a stop command arrived or the hub forgot the
// execution.
func (w *Watcher) IsCancelled() bool {
	return w.cancelled.Load()
}

func (w *Watcher) pollLoop() {
	defer close(w.done)

	for {
		if w.ctx.Err() != nil {
			return
		}

		resp, err := w.poller.PollControl(w.ctx, w.executionID, w.afterSeq, pollWaitMS)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			if isExecutionGone(err) {
				// The hub garbage-collected the run; nothing left to drive.
				w.cancelled.Store(true)
				slog.Info("control.poll_closed", "execution_id", w.executionID, "reason", "execution no longer exists")
				return
			}
			slog.Warn("control.poll_failed", "execution_id", w.executionID, "error", err)
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}

		if resp.LastSeq > w.afterSeq {
			w.afterSeq = resp.LastSeq
		}
		for _, command := range resp.Commands {
			if strings.EqualFold(strings.TrimSpace(command.Type), protocol.CommandStop) {
				w.cancelled.Store(true)
			}
		}
	}
}

// isExecutionGone matches the hub's 404 for an execution it no longer
// tracks.
func isExecutionGone(err error) bool {
	var reqErr *hub.RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.Status == 404 && strings.Contains(reqErr.Body, "EXECUTION_NOT_FOUND")
}
