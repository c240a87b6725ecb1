package tools

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/goyais/worker/internal/providers"
)

const (
	maxSubagentTask    = 2000
	maxSubagentSummary = 4000

	subagentSystemPrompt = "You are a constrained subagent. Return concise, deterministic analysis only. Do not request or execute tools."
	subagentEmptyOutput  = "Subagent finished without textual output."

	// ReasonSubagentRuntimeError is reported when a subagent turn fails for
	// a reason other than an adapter error.
	ReasonSubagentRuntimeError = "SUBAGENT_RUNTIME_ERROR"
)

// SubagentPool bounds concurrent subagent model calls across the whole
// process. Capacity is clamped to [1, 3] regardless of configuration.
type SubagentPool struct {
	sem *semaphore.Weighted
}

// NewSubagentPool builds a pool with the given capacity.
func NewSubagentPool(capacity int) *SubagentPool {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 3 {
		capacity = 3
	}
	return &SubagentPool{sem: semaphore.NewWeighted(int64(capacity))}
}

// Run executes one constrained, tool-less subagent turn against the same
// model invocation as the parent execution. The returned map is the tool
// output verbatim; its "ok" field tells success from failure.
func (p *SubagentPool) Run(ctx context.Context, turner ModelTurner, task, goal string) map[string]interface{} {
	prompt := truncateChars(strings.TrimSpace(task), maxSubagentTask)
	if goal = strings.TrimSpace(goal); goal != "" {
		prompt += "\n\nGoal: " + truncateChars(goal, maxSubagentTask)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return subagentFailure(err)
	}
	defer p.sem.Release(1)

	messages := []providers.TurnMessage{
		{Role: "system", Content: subagentSystemPrompt},
		{Role: "user", Content: prompt},
	}
	turn, err := turner.RunTurn(ctx, messages, nil)
	if err != nil {
		return subagentFailure(err)
	}

	summary := strings.TrimSpace(turn.Text)
	if summary == "" {
		summary = subagentEmptyOutput
	}
	inv := turner.Invocation()
	return map[string]interface{}{
		"ok":       true,
		"summary":  truncateChars(summary, maxSubagentSummary),
		"vendor":   inv.Vendor,
		"model_id": inv.ModelID,
	}
}

func subagentFailure(err error) map[string]interface{} {
	var adapterErr *providers.AdapterError
	if errors.As(err, &adapterErr) {
		out := map[string]interface{}{
			"ok":      false,
			"error":   adapterErr.Code,
			"message": adapterErr.Message,
		}
		if len(adapterErr.Details) > 0 {
			out["details"] = adapterErr.Details
		}
		return out
	}
	return map[string]interface{}{
		"ok":      false,
		"error":   ReasonSubagentRuntimeError,
		"message": err.Error(),
	}
}

// RunSubagentTool delegates one bounded analysis task to a constrained
// subagent sharing the parent execution's model invocation.
type RunSubagentTool struct {
	pool   *SubagentPool
	turner ModelTurner
}

func (t *RunSubagentTool) Name() string { return "run_subagent" }

func (t *RunSubagentTool) Description() string {
	return "Delegate one bounded analysis task to a constrained subagent"
}

func (t *RunSubagentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task statement for the subagent",
			},
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "Optional goal appended to the task",
			},
		},
		"required": []string{"task"},
	}
}

func (t *RunSubagentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task := strings.TrimSpace(stringArg(args, "task"))
	if task == "" {
		return ErrorResult("task is required")
	}
	output := t.pool.Run(ctx, t.turner, task, stringArg(args, "goal"))
	ok, _ := output["ok"].(bool)
	return &Result{Output: output, OK: ok}
}
