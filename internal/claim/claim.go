// Package claim runs the worker's claim/lease loop: register with the hub,
// heartbeat, claim queued executions under the concurrency cap, and drive
// each claimed execution through its worktree, control channel, reporter,
// and engine. Lease expiry stays the hub's problem; workers never renew.
package claim

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/goyais/worker/internal/agent"
	"github.com/goyais/worker/internal/config"
	"github.com/goyais/worker/internal/control"
	"github.com/goyais/worker/internal/hub"
	"github.com/goyais/worker/internal/reporter"
	"github.com/goyais/worker/internal/worktree"
	"github.com/goyais/worker/pkg/protocol"
)

// Runner drives one execution to its terminal event. *agent.Engine
// satisfies it.
type Runner interface {
	Run(ctx context.Context, in agent.Input, emit agent.EmitFn, isCancelled agent.IsCancelledFn)
}

// Service owns the claim loop, the heartbeat, and every in-flight execution
// task.
type Service struct {
	cfg      *config.Config
	hub      *hub.Client
	worktree *worktree.Manager
	engine   Runner

	active atomic.Int32
}

// NewService wires the claim loop against a hub client and an engine.
func NewService(cfg *config.Config, hubClient *hub.Client, wt *worktree.Manager, engine Runner) *Service {
	return &Service{cfg: cfg, hub: hubClient, worktree: wt, engine: engine}
}

// Run registers the worker and blocks driving the heartbeat and claim loops
// until ctx is cancelled, then waits for in-flight executions to finish.
func (s *Service) Run(ctx context.Context) error {
	worker := s.cfg.Worker
	capabilities := map[string]any{
		"runtime":         worker.EffectiveRuntime(),
		"max_concurrency": worker.MaxConcurrency,
	}
	if err := s.hub.RegisterWorker(ctx, worker.ID, capabilities); err != nil {
		slog.Warn("claim.register_failed", "worker_id", worker.ID, "error", err)
	} else {
		slog.Info("claim.registered", "worker_id", worker.ID, "max_concurrency", worker.MaxConcurrency)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.heartbeatLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.claimLoop(ctx, g)
		return nil
	})
	return g.Wait()
}

// ActiveExecutions reports how many claimed executions are in flight.
func (s *Service) ActiveExecutions() int {
	return int(s.active.Load())
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Worker.HeartbeatSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.hub.Heartbeat(ctx, s.cfg.Worker.ID, "active"); err != nil && ctx.Err() == nil {
			slog.Warn("claim.heartbeat_failed", "worker_id", s.cfg.Worker.ID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// claimLoop paces claim attempts at the configured interval. Saturation,
// transient hub errors, and empty queues all wait out one interval; a
// claimed envelope spawns an execution task on the shared group.
func (s *Service) claimLoop(ctx context.Context, g *errgroup.Group) {
	interval := time.Duration(s.cfg.Worker.ClaimIntervalMS) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if int(s.active.Load()) >= s.cfg.Worker.MaxConcurrency {
			continue
		}

		resp, err := s.hub.ClaimExecution(ctx, s.cfg.Worker.ID, s.cfg.Worker.LeaseSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("claim.attempt_failed", "worker_id", s.cfg.Worker.ID, "error", err)
			continue
		}
		if !resp.Claimed || resp.Execution == nil {
			continue
		}

		envelope := resp.Execution
		s.active.Add(1)
		g.Go(func() error {
			defer s.active.Add(-1)
			s.runClaimed(ctx, envelope)
			return nil
		})
	}
}

// runClaimed drives one claimed execution end to end: normalize the
// envelope, prepare the worktree lane, start the control watcher and the
// event reporter, run the engine, and tear everything down. A panic
// anywhere outside the engine is reported as an orchestrator error.
func (s *Service) runClaimed(ctx context.Context, envelope *protocol.ClaimEnvelope) {
	execution := normalizeExecution(envelope)
	if execution == nil {
		slog.Warn("claim.envelope_invalid", "reason", "missing execution_id")
		return
	}
	executionID := execution.ExecutionID

	projectPath := strings.TrimSpace(envelope.ProjectPath)
	projectName := strings.TrimSpace(envelope.ProjectName)
	if projectName == "" && projectPath != "" {
		projectName = filepath.Base(strings.TrimRight(projectPath, "/"))
	}

	lane := s.worktree.Prepare(ctx, executionID, projectPath, envelope.ProjectIsGit)
	defer func() {
		if lane.Created {
			s.worktree.Remove(context.Background(), projectPath, executionID)
		}
	}()

	execHub := s.hub.ForExecution(execution.TraceID)
	rep := reporter.New(execHub, execution)
	rep.Start()
	defer rep.Stop()

	watcher := control.NewWatcher(execHub, executionID)
	watcher.Start()
	defer watcher.Stop()

	// One terminal event per execution: everything after it is dropped, so
	// an orchestrator failure racing the engine's own terminal cannot
	// double-report.
	var terminal atomic.Bool
	emit := func(eventType string, payload map[string]any) {
		if terminal.Load() {
			return
		}
		if protocol.IsTerminalEvent(eventType) {
			terminal.Store(true)
		}
		rep.Report(eventType, payload)
	}
	isCancelled := func() bool {
		return watcher.IsCancelled() || ctx.Err() != nil
	}

	slog.Info("claim.execution_started",
		"execution_id", executionID,
		"trace_id", execution.TraceID,
		"mode", execution.EffectiveMode(),
		"working_directory", lane.Path,
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("claim.orchestrator_panic", "execution_id", executionID, "panic", r)
				emit(protocol.EventExecutionError, map[string]any{
					"reason":  protocol.ReasonOrchestratorError,
					"message": fmt.Sprint(r),
				})
			}
		}()
		s.engine.Run(ctx, agent.Input{
			Execution:        execution,
			Content:          envelope.Content,
			ProjectName:      projectName,
			ProjectPath:      projectPath,
			WorkingDirectory: lane.Path,
		}, emit, isCancelled)
	}()

	slog.Info("claim.execution_finished", "execution_id", executionID, "trace_id", execution.TraceID)
}

// normalizeExecution resolves the legacy id fields into execution_id, fills
// the trace id, and clamps the queue index. A missing identifier makes the
// envelope unusable and returns nil.
func normalizeExecution(envelope *protocol.ClaimEnvelope) *protocol.Execution {
	execution := envelope.Execution
	executionID := strings.TrimSpace(execution.EffectiveID())
	if executionID == "" {
		return nil
	}
	execution.ExecutionID = executionID
	if strings.TrimSpace(execution.ID) == "" {
		execution.ID = executionID
	}
	if execution.QueueIndex < 0 {
		execution.QueueIndex = 0
	}
	if strings.TrimSpace(execution.TraceID) == "" {
		execution.TraceID = "tr_worker_" + executionID
	}
	return &execution
}
