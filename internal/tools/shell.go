package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/goyais/worker/internal/guard"
)

const (
	commandTimeout   = 120 * time.Second
	maxCommandOutput = 50000
)

// RunCommandTool executes one allowlisted command inside the execution
// workspace. The raw string is screened and split by the guard; the argv
// runs directly, never through a shell.
type RunCommandTool struct {
	root    string
	timeout time.Duration
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run one read-only shell command inside the project workspace"
}

func (t *RunCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Command line to run (pwd, ls, cat, rg, or read-only git)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, err := requireStringArg(args, "command")
	if err != nil {
		return ErrorResult("%v", err)
	}
	argv, err := guard.ParseCommand(raw)
	if err != nil {
		return ErrorResult("%v", err)
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = commandTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = t.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return ErrorResult("command timed out after %s", timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ErrorResult("command failed to start: %v", runErr)
		}
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}
	if output == "" {
		output = "(command completed with no output)"
	}

	return NewResult(map[string]interface{}{
		"command":   raw,
		"exit_code": exitCode,
		"output":    truncateChars(output, maxCommandOutput),
	})
}
