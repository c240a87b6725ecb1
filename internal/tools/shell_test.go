package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCommandToolSuccess(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "hello.txt", "hi there\n")
	tool := &RunCommandTool{root: root}

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "cat hello.txt"})
	if !res.OK {
		t.Fatalf("Execute failed: %v", res.Output)
	}
	if got := res.Output["exit_code"]; got != 0 {
		t.Errorf("exit_code = %v, want 0", got)
	}
	out, _ := res.Output["output"].(string)
	if !strings.Contains(out, "hi there") {
		t.Errorf("output = %q, want file content", out)
	}
	if got := res.Output["command"]; got != "cat hello.txt" {
		t.Errorf("command = %q", got)
	}
}

func TestRunCommandToolNonZeroExit(t *testing.T) {
	root := t.TempDir()
	tool := &RunCommandTool{root: root}

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "cat does-not-exist.txt"})
	if !res.OK {
		t.Fatalf("Execute failed: %v", res.Output)
	}
	code, ok := res.Output["exit_code"].(int)
	if !ok || code == 0 {
		t.Errorf("exit_code = %v, want non-zero", res.Output["exit_code"])
	}
	out, _ := res.Output["output"].(string)
	if !strings.Contains(out, "STDERR:") {
		t.Errorf("output = %q, want STDERR section", out)
	}
}

func TestRunCommandToolBlocked(t *testing.T) {
	root := t.TempDir()
	tool := &RunCommandTool{root: root}

	tests := []struct {
		name    string
		command string
	}{
		{"not allowlisted", "rm -rf /"},
		{"metacharacter", "ls; cat /etc/passwd"},
		{"mutating git", "git push origin main"},
		{"empty", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), map[string]interface{}{"command": tt.command})
			if res.OK {
				t.Fatalf("Execute succeeded for %q, want blocked", tt.command)
			}
			msg, _ := res.Output["error"].(string)
			if !strings.Contains(msg, "command blocked") && !strings.Contains(msg, "command is required") {
				t.Errorf("error = %q", msg)
			}
		})
	}
}

func TestRunCommandToolTimeout(t *testing.T) {
	root := t.TempDir()
	// The deadline expires before the process can start.
	tool := &RunCommandTool{root: root, timeout: time.Nanosecond}

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "pwd"})
	if res.OK {
		t.Fatal("Execute succeeded, want timeout")
	}
	msg, _ := res.Output["error"].(string)
	if !strings.Contains(msg, "command timed out after") {
		t.Errorf("error = %q, want timeout message", msg)
	}
}

func TestRunCommandToolEmptyOutput(t *testing.T) {
	root := t.TempDir()
	tool := &RunCommandTool{root: root}

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "ls"})
	if !res.OK {
		t.Fatalf("Execute failed: %v", res.Output)
	}
	out, _ := res.Output["output"].(string)
	if out != "(command completed with no output)" {
		t.Errorf("output = %q, want placeholder for empty output", out)
	}
}
