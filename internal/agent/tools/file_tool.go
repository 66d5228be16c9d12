package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// workspacePath resolves a model-supplied path inside the workspace
// root and rejects escapes.
func workspacePath(workspace, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workspace, resolved)
	}
	resolved = filepath.Clean(resolved)

	root := filepath.Clean(workspace)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return resolved, nil
}

func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// ReadFileTool returns file contents from the workspace.
type ReadFileTool struct {
	Workspace string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file in the workspace."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the workspace or absolute within it"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := workspacePath(t.Workspace, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// WriteFileTool creates or overwrites a file in the workspace.
type WriteFileTool struct {
	Workspace string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to write"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := workspacePath(t.Workspace, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	content := stringArg(input, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), stringArg(input, "path")), nil
}

// EditFileTool replaces one occurrence of a string in a file.
type EditFileTool struct {
	Workspace string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact string in a file. The old string must appear exactly once."
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to edit"},
			"old": {"type": "string", "description": "Exact text to replace"},
			"new": {"type": "string", "description": "Replacement text"}
		},
		"required": ["path", "old", "new"]
	}`)
}

func (t *EditFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	path, err := workspacePath(t.Workspace, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	oldStr := stringArg(input, "old")
	if oldStr == "" {
		return "", fmt.Errorf("old string is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	content := string(data)

	switch n := strings.Count(content, oldStr); {
	case n == 0:
		return "", fmt.Errorf("old string not found in file")
	case n > 1:
		return "", fmt.Errorf("old string appears %d times, must be unique", n)
	}

	updated := strings.Replace(content, oldStr, stringArg(input, "new"), 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Edited %s", stringArg(input, "path")), nil
}

// ListDirTool lists the entries of a workspace directory.
type ListDirTool struct {
	Workspace string
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory in the workspace."
}

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path, defaults to the workspace root"}
		}
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	arg := stringArg(input, "path")
	if arg == "" {
		arg = "."
	}
	path, err := workspacePath(t.Workspace, arg)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
