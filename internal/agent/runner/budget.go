package runner

import (
	"context"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// BudgetConfig bounds the estimated size of the history sent to the model.
type BudgetConfig struct {
	MaxTokens int // Estimated-token ceiling for history plus system prompt
	KeepLastN int // Recent messages kept verbatim through compaction
}

// EnsureUnderBudget returns a history whose token estimate fits
// cfg.MaxTokens. It never fails: summarization is attempted first when
// the history is long enough to split, and a failed or insufficient
// summarization falls back to dropping the oldest messages one by one.
// The last message is always kept even if it alone exceeds the budget.
// Calling it on an already-fitting history returns it unchanged.
func EnsureUnderBudget(ctx context.Context, history []conversation.Message, systemPrompt string, cfg BudgetConfig, compressor *Compressor) []conversation.Message {
	if EstimateTokens(history, systemPrompt) <= cfg.MaxTokens {
		return history
	}

	if compressor != nil && len(history) > cfg.KeepLastN {
		compacted, err := compressor.Compress(ctx, history, cfg.KeepLastN)
		if err != nil {
			logging.Warnf("[Budget] compaction failed, falling back to trimming: %v", err)
		} else {
			logging.Infof("[Budget] compacted %d messages to %d", len(history), len(compacted))
			history = compacted
		}
	}

	dropped := 0
	for len(history) > 1 && EstimateTokens(history, systemPrompt) > cfg.MaxTokens {
		history = history[1:]
		dropped++
	}
	if dropped > 0 {
		logging.Warnf("[Budget] dropped %d oldest messages to fit budget", dropped)
	}
	return history
}
