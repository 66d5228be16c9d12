package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ternlabs/tern/internal/agent/ai"
)

// MaxResultChars caps the content returned to the model per tool call.
// Oversized outputs are truncated with a notice rather than failed.
const MaxResultChars = 30000

// Tool is an executable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Registry holds the tool set for a session. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the registered tools as request definitions,
// sorted by name for a stable wire order.
func (r *Registry) Definitions() []ai.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ai.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ai.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool and always returns result content for the
// model. Unknown tools and execution failures become error-marked
// content, never a fatal condition: the model sees what went wrong and
// decides how to proceed.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) string {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("ERROR: unknown tool %q", name)
	}

	out, err := t.Execute(ctx, input)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if out == "" {
		out = "(no output)"
	}
	if len(out) > MaxResultChars {
		out = out[:MaxResultChars] + fmt.Sprintf("\n... [truncated, %d chars total]", len(out))
	}
	return out
}
