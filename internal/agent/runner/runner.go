package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternlabs/tern/internal/agent/ai"
	"github.com/ternlabs/tern/internal/agent/tools"
	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// TurnState is the orchestrator's position in the turn lifecycle.
type TurnState string

const (
	StateIdle           TurnState = "idle"
	StateAwaitingModel  TurnState = "awaiting_model"
	StateStreaming      TurnState = "streaming"
	StateExecutingTools TurnState = "executing_tools"
	StateSettled        TurnState = "settled"
)

// Checkpointer persists conversation history between turns.
type Checkpointer interface {
	Checkpoint(messages []conversation.Message)
}

// Config carries the per-session orchestration parameters.
type Config struct {
	SystemPrompt  string
	Model         string
	MaxTokens     int // Output token cap per model call
	MaxIterations int // Model round trips per turn before giving up
	Budget        BudgetConfig
}

// Runner drives one conversation: it owns the canonical history and
// runs user turns through the model/tool loop until the model settles
// on a text-only answer.
type Runner struct {
	provider   ai.Provider
	registry   *tools.Registry
	scheduler  *tools.Scheduler
	retry      *ai.RetryController
	compressor *Compressor
	state      *conversation.State
	store      Checkpointer
	cfg        Config
	progress   ai.ProgressFunc

	turnState TurnState
}

// New creates a runner over the given provider and tool set. store and
// progress may be nil.
func New(provider ai.Provider, registry *tools.Registry, retry *ai.RetryController, cfg Config, store Checkpointer, progress ai.ProgressFunc) *Runner {
	if progress == nil {
		progress = func(string) {}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	return &Runner{
		provider:   provider,
		registry:   registry,
		scheduler:  tools.NewScheduler(registry, tools.ProgressFunc(progress)),
		retry:      retry,
		compressor: NewCompressor(provider, cfg.Model),
		state:      conversation.NewState(nil),
		store:      store,
		cfg:        cfg,
		progress:   progress,
		turnState:  StateIdle,
	}
}

// Restore replaces the runner's history, used when resuming a session.
func (r *Runner) Restore(messages []conversation.Message) {
	r.state.Replace(messages)
}

// Messages returns a snapshot of the conversation history.
func (r *Runner) Messages() []conversation.Message {
	return r.state.Snapshot()
}

// State returns the current turn state.
func (r *Runner) State() TurnState {
	return r.turnState
}

func (r *Runner) setState(s TurnState) {
	r.turnState = s
}

// RunTurn processes one user input to completion: it appends the input,
// enforces the context budget once, then alternates model calls and
// tool execution until the model produces a turn with no tool calls.
// Text deltas stream to onDelta as they arrive. On error the history
// holds no partial assistant content.
func (r *Runner) RunTurn(ctx context.Context, input string, onDelta func(string)) (string, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	if strings.TrimSpace(input) != "" {
		r.state.Append(conversation.UserText(input))
	}

	// Budget enforcement happens once at turn start; mid-turn growth is
	// handled reactively on a context-overflow error.
	fitted := EnsureUnderBudget(ctx, r.state.Snapshot(), r.cfg.SystemPrompt, r.cfg.Budget, r.compressor)
	r.state.Replace(fitted)

	defer func() {
		if r.store != nil {
			r.store.Checkpoint(r.state.Snapshot())
		}
	}()

	compactedThisTurn := false
	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		r.setState(StateAwaitingModel)
		r.progress("Thinking…")

		blocks, err := r.retry.RoundTrip(ctx, func(cctx context.Context) ([]conversation.ContentBlock, error) {
			return r.streamOnce(cctx, onDelta)
		})
		if err != nil {
			if ai.IsContextOverflow(err) && !compactedThisTurn && r.compressor != nil {
				compactedThisTurn = true
				logging.Warnf("[Runner] context overflow, compacting mid-turn")
				compacted, cerr := r.compressor.Compress(ctx, r.state.Snapshot(), r.cfg.Budget.KeepLastN)
				if cerr == nil {
					r.state.Replace(compacted)
					continue
				}
				logging.Errorf("[Runner] mid-turn compaction failed: %v", cerr)
			}
			r.setState(StateIdle)
			return "", err
		}

		assistant := conversation.AssistantBlocks(blocks)
		toolUses := assistant.ToolUses()
		r.state.Append(assistant)

		if len(toolUses) == 0 {
			r.setState(StateSettled)
			return assistant.Text(), nil
		}

		r.setState(StateExecutingTools)
		resultBlocks := r.scheduler.Run(ctx, toolUses)
		results := conversation.ToolResults(resultBlocks)
		if err := conversation.ValidateToolCorrelation(&assistant, &results); err != nil {
			logging.Errorf("[Runner] tool result correlation: %v", err)
		}
		r.state.Append(results)
		if ctx.Err() != nil {
			r.setState(StateIdle)
			return "", ctx.Err()
		}
	}

	r.setState(StateIdle)
	return "", fmt.Errorf("turn did not settle after %d iterations", r.cfg.MaxIterations)
}

// streamOnce performs a single streaming model call and collects the
// settled blocks. Cancellation or a stream error discards everything
// collected so far; nothing partial reaches the history.
func (r *Runner) streamOnce(ctx context.Context, onDelta func(string)) ([]conversation.ContentBlock, error) {
	req := &ai.ChatRequest{
		Messages:  r.state.Snapshot(),
		Tools:     r.registry.Definitions(),
		System:    r.cfg.SystemPrompt,
		Model:     r.cfg.Model,
		MaxTokens: r.cfg.MaxTokens,
	}

	events, err := r.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	r.setState(StateStreaming)

	for ev := range events {
		switch ev.Type {
		case ai.EventTypeText:
			onDelta(ev.Text)
		case ai.EventTypeToolCall:
			if ev.Block != nil {
				logging.Infof("[Runner] model requested tool %s (%s)", ev.Block.Name, ev.Block.ID)
			}
		case ai.EventTypeError:
			return nil, ev.Error
		case ai.EventTypeDone:
			return ev.Blocks, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream ended without completion")
}
