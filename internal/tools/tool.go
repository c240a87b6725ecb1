package tools

import (
	"context"
	"fmt"

	"github.com/goyais/worker/internal/providers"
)

// Tool is the interface every built-in implements.
type Tool interface {
	// Name returns the tool identifier advertised to the model.
	Name() string

	// Description returns what the tool does, for the model.
	Description() string

	// Parameters returns the JSON schema of the tool's arguments.
	Parameters() map[string]interface{}

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ModelTurner runs a single model turn. *providers.Client satisfies it; the
// indirection keeps subagent tests off the network.
type ModelTurner interface {
	RunTurn(ctx context.Context, messages []providers.TurnMessage, tools []providers.ToolSchema) (*providers.TurnResult, error)
	Invocation() *providers.Invocation
}

// Runtime owns the built-in tool set for one execution workspace.
type Runtime struct {
	tools map[string]Tool
	order []string
}

// NewRuntime builds the standard registry rooted at workspaceRoot. The
// subagent tool is registered only when both a pool and a turner are
// available.
func NewRuntime(workspaceRoot string, pool *SubagentPool, turner ModelTurner) *Runtime {
	r := &Runtime{tools: make(map[string]Tool)}
	r.register(&ReadFileTool{root: workspaceRoot})
	r.register(&WriteFileTool{root: workspaceRoot})
	r.register(&EditFileTool{root: workspaceRoot})
	r.register(&RunCommandTool{root: workspaceRoot})
	if pool != nil && turner != nil {
		r.register(&RunSubagentTool{pool: pool, turner: turner})
	}
	return r
}

func (r *Runtime) register(t Tool) {
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Lookup returns the tool registered under name.
func (r *Runtime) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the tool declarations advertised to the model, in
// registration order.
func (r *Runtime) Schemas() []providers.ToolSchema {
	schemas := make([]providers.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schemas = append(schemas, providers.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return schemas
}

// Execute dispatches one model tool call. Unknown tools produce an error
// result rather than an error: the model sees the failure and can recover.
func (r *Runtime) Execute(ctx context.Context, call providers.ToolCall) *Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return ErrorResult("unknown tool: %s", call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Execute(ctx, args)
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func requireStringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// truncateChars limits s to max characters, counting runes so multi-byte
// text never splits mid-character.
func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
