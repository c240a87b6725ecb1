package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goyais/worker/internal/guard"
)

const maxContentPreview = 50000

// ReadFileTool reads one file from the execution workspace.
type ReadFileTool struct {
	root string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read one file from the project workspace"
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative path of the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := requireStringArg(args, "path")
	if err != nil {
		return ErrorResult("%v", err)
	}
	resolved, err := guard.ResolvePath(t.root, path)
	if err != nil {
		return ErrorResult("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult("read failed: %v", err)
	}
	return NewResult(map[string]interface{}{
		"path":            path,
		"summary":         fmt.Sprintf("Read completed for %s", path),
		"content_preview": truncateChars(string(data), maxContentPreview),
	})
}

// WriteFileTool creates or replaces one file in the execution workspace.
type WriteFileTool struct {
	root string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Create or replace one file in the project workspace"
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative path of the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full UTF-8 content of the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := requireStringArg(args, "path")
	if err != nil {
		return ErrorResult("%v", err)
	}
	content := stringArg(args, "content")
	resolved, err := guard.ResolvePath(t.root, path)
	if err != nil {
		return ErrorResult("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult("write failed: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult("write failed: %v", err)
	}
	return NewResult(map[string]interface{}{
		"path":    path,
		"summary": "Applied update via write_file",
	}).WithDiff(fileDiff("write_file", path))
}

// EditFileTool replaces the first occurrence of a text fragment in an
// existing workspace file.
type EditFileTool struct {
	root string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace one text fragment in an existing file"
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative path of the file to edit",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text fragment to replace",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := requireStringArg(args, "path")
	if err != nil {
		return ErrorResult("%v", err)
	}
	oldText, err := requireStringArg(args, "old_text")
	if err != nil {
		return ErrorResult("%v", err)
	}
	newText := stringArg(args, "new_text")

	resolved, err := guard.ResolvePath(t.root, path)
	if err != nil {
		return ErrorResult("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult("read failed: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, oldText) {
		return ErrorResult("old_text not found in %s", path)
	}
	// First occurrence only. Repeated edits walk the file incrementally.
	updated := strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult("write failed: %v", err)
	}
	return NewResult(map[string]interface{}{
		"path":    path,
		"summary": "Applied update via edit_file",
	}).WithDiff(fileDiff("edit_file", path))
}

func fileDiff(toolName, path string) *Diff {
	return &Diff{
		ID:         fmt.Sprintf("diff_%s_%s", toolName, path),
		Path:       path,
		ChangeType: "modified",
		Summary:    fmt.Sprintf("%s updated file", toolName),
	}
}
