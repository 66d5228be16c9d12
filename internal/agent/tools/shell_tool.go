package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecTool runs a shell command in the workspace. Commands are bounded
// by a timeout; a non-zero exit is reported in the result content so
// the model can react to it.
type ExecTool struct {
	Workspace string
	Timeout   time.Duration
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace and return its combined output."
}

func (t *ExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run"}
		},
		"required": ["command"]
	}`)
}

func (t *ExecTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	command := stringArg(input, "command")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = t.Workspace

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")

	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		if output == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return fmt.Sprintf("%s\n(exit status: %v)", output, err), nil
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
