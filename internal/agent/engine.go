// Package agent drives one claimed execution end to end: the model turn
// loop, tool dispatch with risk gating, the bounded subagent fan-out, and
// the terminal event. The engine owns no transport; everything observable
// leaves through the emit callback and cancellation arrives through a
// polled flag.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goyais/worker/internal/config"
	"github.com/goyais/worker/internal/providers"
	"github.com/goyais/worker/internal/risk"
	"github.com/goyais/worker/internal/tools"
	"github.com/goyais/worker/pkg/protocol"
)

const (
	systemPrompt = "You are Goyais worker. Prefer deterministic code edits and concise explanations. Use available tools only when necessary."

	systemPromptSuffix = "Use this context when answering project-scoped questions."

	// turnLimitNudge is the final user message of the summary turn after
	// the tool-call turn cap is hit.
	turnLimitNudge = "Tool-call turn limit reached. Do not call tools. Provide a concise final answer."

	maxDeltaChars = 1000
)

// EmitFn delivers one execution event. Implementations stamp ordering and
// identity; the engine only provides type and payload.
type EmitFn func(eventType string, payload map[string]any)

// IsCancelledFn reports whether a stop command arrived. Polled at every
// turn, tool, and I/O boundary.
type IsCancelledFn func() bool

// Input is the per-execution slice of the claim envelope the engine needs.
type Input struct {
	Execution        *protocol.Execution
	Content          string
	ProjectName      string
	ProjectPath      string
	WorkingDirectory string
}

// Engine runs executions against a model with the built-in tool set. One
// engine serves the whole process; each Run is independent.
type Engine struct {
	cfg  config.WorkerConfig
	pool *tools.SubagentPool

	// connect resolves an execution's model invocation into a live client.
	// Swappable so tests can run the loop against a scripted model.
	connect func(exec *protocol.Execution) (tools.ModelTurner, error)
}

// NewEngine builds the engine. The subagent pool is shared process-wide.
func NewEngine(cfg config.WorkerConfig, pool *tools.SubagentPool) *Engine {
	e := &Engine{cfg: cfg, pool: pool}
	e.connect = dialModel
	return e
}

func dialModel(exec *protocol.Execution) (tools.ModelTurner, error) {
	inv, err := providers.ResolveInvocation(exec)
	if err != nil {
		return nil, err
	}
	return providers.NewClient(inv)
}

// Run drives one execution to its terminal event. It never returns an
// error: every failure mode becomes a typed execution_error, and a panic
// anywhere in the loop is reported as WORKER_RUNTIME_ERROR.
func (e *Engine) Run(ctx context.Context, in Input, emit EmitFn, isCancelled IsCancelledFn) {
	executionID := in.Execution.EffectiveID()
	if executionID == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine.panic", "execution_id", executionID, "panic", r)
			emit(protocol.EventExecutionError, map[string]any{
				"reason":  protocol.ReasonRuntimeError,
				"message": fmt.Sprint(r),
			})
		}
	}()

	mode := strings.ToLower(in.Execution.EffectiveMode())
	content := strings.TrimSpace(in.Content)

	ctx, runSpan := startRunSpan(ctx, executionID, mode, in.Execution.ModelID)
	defer runSpan.End()
	emit = traceTerminal(runSpan, emit)

	emit(protocol.EventExecutionStarted, map[string]any{
		"mode":     mode,
		"model_id": in.Execution.ModelID,
	})
	if isCancelled() {
		e.emitStopped(emit)
		return
	}

	if e.cfg.RuntimeFallback() {
		emit(protocol.EventThinkingDelta, map[string]any{
			"stage": protocol.StageRuntimeFallback,
			"from":  e.cfg.Runtime,
			"to":    e.cfg.EffectiveRuntime(),
		})
	}

	contentRisk := risk.ClassifyContent(content)
	if mode == protocol.ModePlan && contentRisk.AtLeast(risk.High) {
		emit(protocol.EventExecutionError, map[string]any{
			"reason":     protocol.ReasonPlanModeRejected,
			"message":    "Plan mode rejects high/critical operations.",
			"risk_level": string(contentRisk),
		})
		return
	}

	turner, err := e.connect(in.Execution)
	if err != nil {
		emit(protocol.EventExecutionError, adapterErrorPayload(err))
		return
	}
	inv := turner.Invocation()

	runtime := tools.NewRuntime(in.WorkingDirectory, e.pool, turner)
	schemas := runtime.Schemas()

	messages := []providers.TurnMessage{
		{Role: "system", Content: buildSystemPrompt(in)},
		{Role: "user", Content: content},
	}
	maxTurns := e.resolveMaxTurns(in.Execution)

	var usage providers.Usage
	var diffs []*tools.Diff
	finalText := ""

	for turn := 1; turn <= maxTurns; turn++ {
		if isCancelled() {
			e.emitStopped(emit)
			return
		}

		emit(protocol.EventThinkingDelta, map[string]any{
			"stage":    protocol.StageModelCall,
			"turn":     turn,
			"vendor":   inv.Vendor,
			"model_id": inv.ModelID,
		})

		turnCtx, turnSpan := startTurnSpan(ctx, turn, inv.Vendor, inv.ModelID)
		turnResult, err := turner.RunTurn(turnCtx, messages, schemas)
		endTurnSpan(turnSpan, turnResult, err)
		if err != nil {
			emit(protocol.EventExecutionError, adapterErrorPayload(err))
			return
		}
		usage.Add(turnResult.Usage)

		if turnResult.Text != "" {
			finalText = turnResult.Text
			emit(protocol.EventThinkingDelta, map[string]any{
				"stage": protocol.StageAssistantOutput,
				"turn":  turn,
				"delta": truncateChars(turnResult.Text, maxDeltaChars),
				"usage": usage,
			})
		}

		if len(turnResult.ToolCalls) == 0 {
			e.emitDiffs(emit, diffs)
			emit(protocol.EventExecutionDone, map[string]any{
				"content":   defaultContent(finalText, executionID),
				"result":    "ok",
				"turns":     turn,
				"max_turns": maxTurns,
				"usage":     usage,
			})
			return
		}

		messages = append(messages, providers.TurnMessage{
			Role:      "assistant",
			Content:   turnResult.Text,
			ToolCalls: turnResult.ToolCalls,
		})

		pending, stopped := e.dispatchToolCalls(ctx, dispatchState{
			mode:     mode,
			runtime:  runtime,
			calls:    turnResult.ToolCalls,
			emit:     emit,
			cancel:   isCancelled,
			messages: &messages,
			diffs:    &diffs,
		})
		if stopped {
			return
		}

		// Await subagents in the order the model requested them so the
		// transcript stays deterministic.
		for _, p := range pending {
			output := <-p.result
			ok, _ := output["ok"].(bool)
			emit(protocol.EventToolResult, map[string]any{
				"call_id": p.callID,
				"name":    p.name,
				"ok":      ok,
				"output":  output,
			})
			messages = append(messages, toolMessage(p.callID, p.name, output))
		}
	}

	e.finishTruncated(ctx, emit, turner, messages, diffs, finalText, executionID, maxTurns, &usage)
}

type pendingSubagent struct {
	callID string
	name   string
	result chan map[string]any
}

type dispatchState struct {
	mode     string
	runtime  *tools.Runtime
	calls    []providers.ToolCall
	emit     EmitFn
	cancel   IsCancelledFn
	messages *[]providers.TurnMessage
	diffs    *[]*tools.Diff
}

// dispatchToolCalls walks one turn's tool calls in model order. Subagent
// calls fan out into goroutines bounded by the shared pool and are returned
// for ordered collection; everything else runs synchronously. The stopped
// return means a terminal event was emitted and the run must end.
func (e *Engine) dispatchToolCalls(ctx context.Context, st dispatchState) (pending []pendingSubagent, stopped bool) {
	for _, call := range st.calls {
		if st.cancel() {
			e.emitStopped(st.emit)
			return nil, true
		}

		riskLevel := risk.ClassifyTool(call.Name, call.Arguments)
		if st.mode == protocol.ModePlan && riskLevel.AtLeast(risk.High) {
			st.emit(protocol.EventExecutionError, map[string]any{
				"reason":     protocol.ReasonPlanModeRejected,
				"message":    "Plan mode rejects high/critical tool usage.",
				"tool_name":  call.Name,
				"risk_level": string(riskLevel),
			})
			return nil, true
		}

		st.emit(protocol.EventToolCall, map[string]any{
			"call_id":    call.ID,
			"name":       call.Name,
			"input":      call.Arguments,
			"risk_level": string(riskLevel),
		})

		if strings.EqualFold(strings.TrimSpace(call.Name), "run_subagent") {
			p := pendingSubagent{callID: call.ID, name: call.Name, result: make(chan map[string]any, 1)}
			go func(c providers.ToolCall) {
				toolCtx, span := startToolSpan(ctx, c, string(riskLevel))
				res := st.runtime.Execute(toolCtx, c)
				endToolSpan(span, res.OK)
				p.result <- res.Output
			}(call)
			pending = append(pending, p)
			continue
		}

		toolCtx, span := startToolSpan(ctx, call, string(riskLevel))
		res := st.runtime.Execute(toolCtx, call)
		endToolSpan(span, res.OK)
		st.emit(protocol.EventToolResult, map[string]any{
			"call_id": call.ID,
			"name":    call.Name,
			"ok":      res.OK,
			"output":  res.Output,
		})
		if res.Diff != nil {
			*st.diffs = append(*st.diffs, res.Diff)
		}
		*st.messages = append(*st.messages, toolMessage(call.ID, call.Name, res.Output))
	}
	return pending, false
}

// finishTruncated handles the turn-cap path: announce the limit, run one
// tool-less summary turn, and close with a truncated execution_done. Only a
// failing summary turn escalates to MAX_TURNS_EXCEEDED.
func (e *Engine) finishTruncated(ctx context.Context, emit EmitFn, turner tools.ModelTurner, messages []providers.TurnMessage, diffs []*tools.Diff, finalText, executionID string, maxTurns int, usage *providers.Usage) {
	emit(protocol.EventThinkingDelta, map[string]any{
		"stage":     protocol.StageTurnLimitReached,
		"max_turns": maxTurns,
	})

	messages = append(messages, providers.TurnMessage{Role: "user", Content: turnLimitNudge})
	inv := turner.Invocation()
	emit(protocol.EventThinkingDelta, map[string]any{
		"stage":    protocol.StageModelCall,
		"turn":     maxTurns + 1,
		"vendor":   inv.Vendor,
		"model_id": inv.ModelID,
	})
	turnCtx, turnSpan := startTurnSpan(ctx, maxTurns+1, inv.Vendor, inv.ModelID)
	summary, err := turner.RunTurn(turnCtx, messages, nil)
	endTurnSpan(turnSpan, summary, err)
	if err != nil {
		emit(protocol.EventExecutionError, map[string]any{
			"reason":    protocol.ReasonMaxTurnsExceeded,
			"message":   "Execution exceeded the max model turns.",
			"max_turns": maxTurns,
			"details":   map[string]any{"summary_error": err.Error()},
		})
		return
	}
	usage.Add(summary.Usage)

	text := strings.TrimSpace(summary.Text)
	if text == "" {
		text = defaultContent(finalText, executionID)
	}

	e.emitDiffs(emit, diffs)
	emit(protocol.EventExecutionDone, map[string]any{
		"content":   text,
		"result":    "ok",
		"truncated": true,
		"reason":    protocol.ReasonMaxTurnsReached,
		"turns":     maxTurns,
		"max_turns": maxTurns,
		"usage":     *usage,
	})
}

func (e *Engine) emitStopped(emit EmitFn) {
	emit(protocol.EventExecutionStopped, map[string]any{
		"reason": protocol.ReasonStopRequested,
	})
}

func (e *Engine) emitDiffs(emit EmitFn, diffs []*tools.Diff) {
	if len(diffs) == 0 {
		return
	}
	emit(protocol.EventDiffGenerated, map[string]any{
		"files": len(diffs),
		"diff":  diffs,
	})
}

// resolveMaxTurns picks the turn cap: execution snapshot first, then worker
// configuration, clamped into the supported window.
func (e *Engine) resolveMaxTurns(exec *protocol.Execution) int {
	if snap := exec.AgentConfigSnapshot; snap != nil && snap.MaxModelTurns > 0 {
		return config.ClampTurns(snap.MaxModelTurns)
	}
	return config.ClampTurns(e.cfg.MaxModelTurns)
}

func adapterErrorPayload(err error) map[string]any {
	var adapterErr *providers.AdapterError
	if errors.As(err, &adapterErr) {
		payload := map[string]any{
			"reason":  adapterErr.Code,
			"message": adapterErr.Message,
		}
		if len(adapterErr.Details) > 0 {
			payload["details"] = adapterErr.Details
		}
		return payload
	}
	return map[string]any{
		"reason":  protocol.ReasonRuntimeError,
		"message": err.Error(),
	}
}

func buildSystemPrompt(in Input) string {
	var parts []string
	if name := strings.TrimSpace(in.ProjectName); name != "" {
		parts = append(parts, fmt.Sprintf("Current project name: %s.", name))
	}
	path := strings.TrimSpace(in.ProjectPath)
	if path == "" {
		path = strings.TrimSpace(in.WorkingDirectory)
	}
	if path != "" {
		parts = append(parts, fmt.Sprintf("Current project path: %s.", path))
	}
	if len(parts) == 0 {
		return systemPrompt
	}
	return systemPrompt + " " + strings.Join(parts, " ") + " " + systemPromptSuffix
}

func defaultContent(finalText, executionID string) string {
	if finalText != "" {
		return finalText
	}
	return fmt.Sprintf("Execution %s completed.", executionID)
}

// toolMessage encodes a tool output into the transcript message the next
// model turn consumes.
func toolMessage(callID, name string, output map[string]any) providers.TurnMessage {
	encoded, err := json.Marshal(output)
	if err != nil {
		encoded = []byte(`{"error":"tool output not serializable"}`)
	}
	return providers.TurnMessage{
		Role:       "tool",
		ToolCallID: callID,
		Name:       name,
		Content:    string(encoded),
	}
}

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
