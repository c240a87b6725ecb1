package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goyais/worker/internal/providers"
)

type fakeTurner struct {
	text     string
	err      error
	messages []providers.TurnMessage
	tools    []providers.ToolSchema
	calls    int
}

func (f *fakeTurner) RunTurn(ctx context.Context, messages []providers.TurnMessage, tools []providers.ToolSchema) (*providers.TurnResult, error) {
	f.calls++
	f.messages = messages
	f.tools = tools
	if f.err != nil {
		return nil, f.err
	}
	return &providers.TurnResult{Text: f.text}, nil
}

func (f *fakeTurner) Invocation() *providers.Invocation {
	return &providers.Invocation{Vendor: "openai", ModelID: "gpt-4.1"}
}

func TestSubagentPoolRun(t *testing.T) {
	pool := NewSubagentPool(2)
	turner := &fakeTurner{text: "  analysis done  "}

	out := pool.Run(context.Background(), turner, "inspect the parser", "find the bug")

	if ok, _ := out["ok"].(bool); !ok {
		t.Fatalf("ok = false: %v", out)
	}
	if got := out["summary"]; got != "analysis done" {
		t.Errorf("summary = %q", got)
	}
	if got := out["vendor"]; got != "openai" {
		t.Errorf("vendor = %q", got)
	}
	if got := out["model_id"]; got != "gpt-4.1" {
		t.Errorf("model_id = %q", got)
	}

	if len(turner.messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(turner.messages))
	}
	if turner.messages[0].Role != "system" || turner.messages[0].Content != subagentSystemPrompt {
		t.Errorf("system message = %+v", turner.messages[0])
	}
	wantPrompt := "inspect the parser\n\nGoal: find the bug"
	if turner.messages[1].Content != wantPrompt {
		t.Errorf("user prompt = %q, want %q", turner.messages[1].Content, wantPrompt)
	}
	if len(turner.tools) != 0 {
		t.Errorf("subagent advertised %d tools, want none", len(turner.tools))
	}
}

func TestSubagentPoolTruncation(t *testing.T) {
	pool := NewSubagentPool(1)
	turner := &fakeTurner{text: strings.Repeat("s", maxSubagentSummary+500)}

	out := pool.Run(context.Background(), turner, strings.Repeat("t", maxSubagentTask+500), "")

	summary, _ := out["summary"].(string)
	if len(summary) != maxSubagentSummary {
		t.Errorf("summary length = %d, want %d", len(summary), maxSubagentSummary)
	}
	prompt := turner.messages[1].Content
	if len(prompt) != maxSubagentTask {
		t.Errorf("prompt length = %d, want %d", len(prompt), maxSubagentTask)
	}
}

func TestSubagentPoolEmptyOutput(t *testing.T) {
	pool := NewSubagentPool(1)
	turner := &fakeTurner{text: "   "}

	out := pool.Run(context.Background(), turner, "task", "")
	if got := out["summary"]; got != subagentEmptyOutput {
		t.Errorf("summary = %q, want %q", got, subagentEmptyOutput)
	}
}

func TestSubagentPoolErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantError   string
		wantMessage string
		wantDetails bool
	}{
		{
			name: "adapter error",
			err: &providers.AdapterError{
				Code:    providers.ErrCodeModelHTTPError,
				Message: "model endpoint returned status 500",
				Details: map[string]interface{}{"status_code": 500},
			},
			wantError:   "MODEL_HTTP_ERROR",
			wantMessage: "model endpoint returned status 500",
			wantDetails: true,
		},
		{
			name:        "runtime error",
			err:         errors.New("connection reset"),
			wantError:   ReasonSubagentRuntimeError,
			wantMessage: "connection reset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewSubagentPool(1)
			out := pool.Run(context.Background(), &fakeTurner{err: tt.err}, "task", "")

			if ok, _ := out["ok"].(bool); ok {
				t.Fatalf("ok = true, want failure: %v", out)
			}
			if got := out["error"]; got != tt.wantError {
				t.Errorf("error = %v, want %v", got, tt.wantError)
			}
			if got := out["message"]; got != tt.wantMessage {
				t.Errorf("message = %v, want %v", got, tt.wantMessage)
			}
			if _, has := out["details"]; has != tt.wantDetails {
				t.Errorf("details present = %v, want %v", has, tt.wantDetails)
			}
		})
	}
}

func TestNewSubagentPoolClampsCapacity(t *testing.T) {
	tests := []struct {
		capacity int
		want     int64
	}{
		{0, 1},
		{-5, 1},
		{2, 2},
		{10, 3},
	}
	for _, tt := range tests {
		pool := NewSubagentPool(tt.capacity)
		if !pool.sem.TryAcquire(tt.want) {
			t.Errorf("capacity %d: could not acquire %d permits", tt.capacity, tt.want)
		}
		if pool.sem.TryAcquire(1) {
			t.Errorf("capacity %d: acquired beyond %d permits", tt.capacity, tt.want)
		}
	}
}

func TestRunSubagentToolRequiresTask(t *testing.T) {
	tool := &RunSubagentTool{pool: NewSubagentPool(1), turner: &fakeTurner{text: "x"}}

	res := tool.Execute(context.Background(), map[string]interface{}{"task": "  "})
	if res.OK {
		t.Fatal("Execute succeeded, want task-required error")
	}
	msg, _ := res.Output["error"].(string)
	if msg != "task is required" {
		t.Errorf("error = %q", msg)
	}
}

func TestRunSubagentToolMirrorsOutcome(t *testing.T) {
	pool := NewSubagentPool(1)

	okTool := &RunSubagentTool{pool: pool, turner: &fakeTurner{text: "fine"}}
	res := okTool.Execute(context.Background(), map[string]interface{}{"task": "check"})
	if !res.OK {
		t.Errorf("ok run reported failure: %v", res.Output)
	}

	failTool := &RunSubagentTool{pool: pool, turner: &fakeTurner{err: errors.New("boom")}}
	res = failTool.Execute(context.Background(), map[string]interface{}{"task": "check"})
	if res.OK {
		t.Errorf("failed run reported success: %v", res.Output)
	}
}
