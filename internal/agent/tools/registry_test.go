package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type stubTool struct {
	name   string
	output string
	err    error
}

func (t *stubTool) Name() string            { return t.name }
func (t *stubTool) Description() string     { return "stub" }
func (t *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	return t.output, t.err
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	out := reg.Execute(context.Background(), "missing", nil)
	if !strings.Contains(out, `unknown tool "missing"`) || !strings.HasPrefix(out, "ERROR:") {
		t.Errorf("unexpected content for unknown tool: %q", out)
	}
}

func TestRegistryExecuteErrorMarked(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "boom", err: errors.New("disk full")})

	out := reg.Execute(context.Background(), "boom", nil)
	if out != "ERROR: disk full" {
		t.Errorf("expected error-marked content, got %q", out)
	}
}

func TestRegistryExecuteTruncatesLongOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "big", output: strings.Repeat("x", MaxResultChars+500)})

	out := reg.Execute(context.Background(), "big", nil)
	if len(out) >= MaxResultChars+500 {
		t.Errorf("output was not truncated: %d chars", len(out))
	}
	if !strings.Contains(out, "truncated") {
		t.Error("truncated output must carry a notice")
	}
}

func TestRegistryExecuteEmptyOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "quiet"})

	if out := reg.Execute(context.Background(), "quiet", nil); out != "(no output)" {
		t.Errorf("unexpected content for empty output: %q", out)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "zeta"})
	reg.Register(&stubTool{name: "alpha"})
	reg.Register(&stubTool{name: "mid"})

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "mid" || defs[2].Name != "zeta" {
		t.Errorf("definitions not sorted: %v", defs)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "t", output: "old"})
	reg.Register(&stubTool{name: "t", output: "new"})

	if out := reg.Execute(context.Background(), "t", nil); out != "new" {
		t.Errorf("expected replacement to win, got %q", out)
	}
}
