// Package risk classifies user content and tool calls into the low, high,
// critical order used for mode gating. Both classifiers are pure functions
// over lowercase keyword scans.
package risk

import (
	"encoding/json"
	"strings"

	"github.com/goyais/worker/internal/guard"
)

// Level orders the gating severities. Critical wins over high wins over low.
type Level string

const (
	Low      Level = "low"
	High     Level = "high"
	Critical Level = "critical"
)

var rank = map[Level]int{Low: 0, High: 1, Critical: 2}

// AtLeast reports whether l sits at or above threshold.
func (l Level) AtLeast(threshold Level) bool {
	return rank[l] >= rank[threshold]
}

// Critical content keywords carry surrounding spaces so they only match as
// whole words once the content is space-wrapped. The CJK terms have no word
// boundaries and match bare.
var contentCritical = []string{" delete ", " rm ", "remove file", "drop table", "删除"}

var contentHigh = []string{
	"write",
	"apply_patch",
	"run ",
	"command",
	"network",
	"edit ",
	"修改",
	"写入",
	"执行",
	"联网",
}

// ClassifyContent scans a user message for destructive intent.
func ClassifyContent(content string) Level {
	normalized := strings.ToLower(content)
	wrapped := " " + normalized + " "
	for _, keyword := range contentCritical {
		if strings.Contains(wrapped, keyword) {
			return Critical
		}
	}
	for _, keyword := range contentHigh {
		if strings.Contains(normalized, keyword) {
			return High
		}
	}
	return Low
}

var toolNameCritical = []string{"delete", "remove", "rm", "drop"}
var toolNameHigh = []string{"write", "patch", "run", "command", "network", "edit", "create"}

var toolArgsCritical = []string{"delete", "rm ", "remove", "drop table", "删除"}
var toolArgsHigh = []string{"write", "apply_patch", "run_command", "network"}

// destructiveVerbs turn a blocked run_command from high to critical.
var destructiveVerbs = map[string]bool{
	"rm":       true,
	"rmdir":    true,
	"del":      true,
	"shred":    true,
	"mkfs":     true,
	"dd":       true,
	"truncate": true,
}

// ClassifyTool scores one tool call. run_subagent is always low.
// run_command is low when the command passes read-only screening, critical
// when it carries an obviously destructive verb, high otherwise. Every
// other tool is matched by keyword against its name and then its
// JSON-serialized arguments.
func ClassifyTool(name string, args map[string]any) Level {
	normalized := strings.ToLower(name)
	switch normalized {
	case "run_subagent":
		return Low
	case "run_command":
		command, _ := args["command"].(string)
		return classifyCommand(command)
	}

	for _, keyword := range toolNameCritical {
		if strings.Contains(normalized, keyword) {
			return Critical
		}
	}
	for _, keyword := range toolNameHigh {
		if strings.Contains(normalized, keyword) {
			return High
		}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return High
	}
	serialized := strings.ToLower(string(raw))
	for _, keyword := range toolArgsCritical {
		if strings.Contains(serialized, keyword) {
			return Critical
		}
	}
	for _, keyword := range toolArgsHigh {
		if strings.Contains(serialized, keyword) {
			return High
		}
	}
	return Low
}

func classifyCommand(command string) Level {
	if _, err := guard.ParseCommand(command); err == nil {
		return Low
	}
	lowered := strings.ToLower(command)
	if strings.Contains(lowered, "drop table") {
		return Critical
	}
	for _, token := range strings.Fields(lowered) {
		if destructiveVerbs[token] {
			return Critical
		}
	}
	return High
}
