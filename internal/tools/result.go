package tools

import "fmt"

// Diff describes one file change produced by a tool invocation. Diffs are
// collected by the execution engine and surfaced once per run through a
// diff_generated event.
type Diff struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	ChangeType string `json:"change_type"`
	Summary    string `json:"summary"`
}

// Result is the unified return value of a tool execution. Output is
// JSON-encoded into the transcript message that feeds the next model turn,
// so every tool returns a map even on failure.
type Result struct {
	Output map[string]interface{}
	Diff   *Diff
	OK     bool
}

// NewResult wraps a successful tool output.
func NewResult(output map[string]interface{}) *Result {
	return &Result{Output: output, OK: true}
}

// ErrorResult wraps a tool-scoped failure. The message lands in the
// transcript as {"error": message}; tool failures never abort the run.
func ErrorResult(format string, args ...interface{}) *Result {
	return &Result{
		Output: map[string]interface{}{"error": fmt.Sprintf(format, args...)},
		OK:     false,
	}
}

// WithDiff attaches a file-change descriptor to the result.
func (r *Result) WithDiff(d *Diff) *Result {
	r.Diff = d
	return r
}
