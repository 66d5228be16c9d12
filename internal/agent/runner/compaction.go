package runner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternlabs/tern/internal/agent/ai"
	"github.com/ternlabs/tern/internal/conversation"
)

// SummarySystemPrompt is the dedicated system prompt for the
// summarization call. It asks for a dense prose digest, not bullets.
const SummarySystemPrompt = `You compress conversation transcripts. Produce a dense prose digest of the conversation below: what the user wanted, what was done, key decisions, file paths and commands involved, and anything still unresolved. Keep concrete identifiers verbatim. Output only the digest, no preamble.`

const (
	// MaxPinnedFacts caps how many high-salience lines survive compaction verbatim
	MaxPinnedFacts = 28
	// MaxPinnedFactChars truncates individual pinned lines
	MaxPinnedFactChars = 200
)

// Pinned-fact heuristics. These are tunable salience filters, not a
// correctness contract: lines carrying absolute paths, URLs, shouted
// tokens, or obligation keywords tend to be the ones the digest loses.
var (
	absPathPattern = regexp.MustCompile(`(^|\s)/[\w.@~-]+(/[\w.@~-]+)+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	capsPattern    = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
)

var pinnedKeywords = []string{"error", "must", "todo", "constraint"}

// Compressor reduces an over-budget history to a shorter equivalent via
// a non-streaming summarization call, preserving pinned facts verbatim.
type Compressor struct {
	provider ai.Provider
	model    string
}

// NewCompressor creates a compressor using the given provider and model.
func NewCompressor(provider ai.Provider, model string) *Compressor {
	return &Compressor{provider: provider, model: model}
}

// Compress splits history into a summarized prefix and the keepLastN
// most recent messages. A history of keepLastN or fewer messages is
// returned unchanged. A failed summarization call propagates to the
// caller, which falls back to pure trimming.
func (c *Compressor) Compress(ctx context.Context, history []conversation.Message, keepLastN int) ([]conversation.Message, error) {
	if len(history) <= keepLastN {
		return history, nil
	}

	toSummarize := history[:len(history)-keepLastN]
	recent := history[len(history)-keepLastN:]

	summary, err := c.summarize(ctx, toSummarize)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("[Conversation summary] Earlier messages were compacted.\n")
	if pinned := ExtractPinnedFacts(toSummarize); len(pinned) > 0 {
		sb.WriteString("\nKey details preserved verbatim:\n")
		for _, fact := range pinned {
			sb.WriteString("- ")
			sb.WriteString(fact)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(summary)

	result := make([]conversation.Message, 0, len(recent)+1)
	result = append(result, conversation.UserText(sb.String()))
	result = append(result, recent...)
	return result, nil
}

// summarize sends the discarded prefix to the model under the
// summarization prompt, non-streaming.
func (c *Compressor) summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	var transcript strings.Builder
	for i := range messages {
		msg := &messages[i]
		transcript.WriteString(msg.Role)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Text())
		for _, b := range msg.Blocks {
			switch b.Type {
			case conversation.BlockToolUse:
				transcript.WriteString(fmt.Sprintf("\n[called %s]", b.Name))
			case conversation.BlockToolResult:
				transcript.WriteString("\n[tool result] ")
				transcript.WriteString(b.Content)
			}
		}
		transcript.WriteString("\n")
	}

	blocks, err := c.provider.Complete(ctx, &ai.ChatRequest{
		Messages: []conversation.Message{conversation.UserText(transcript.String())},
		System:   SummarySystemPrompt,
		Model:    c.model,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, b := range blocks {
		if b.Type == conversation.BlockText {
			out.WriteString(b.Text)
		}
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", fmt.Errorf("summarizer returned no text")
	}
	return summary, nil
}

// ExtractPinnedFacts scans the text of messages about to be discarded
// and keeps lines matching the salience heuristics: absolute paths,
// URLs, all-caps tokens of length >= 3, and obligation keywords.
// Results are deduplicated, truncated to MaxPinnedFactChars, and capped
// at MaxPinnedFacts.
func ExtractPinnedFacts(messages []conversation.Message) []string {
	var facts []string
	seen := make(map[string]bool)

	add := func(line string) bool {
		line = strings.TrimSpace(line)
		if line == "" {
			return false
		}
		if len(line) > MaxPinnedFactChars {
			line = line[:MaxPinnedFactChars]
		}
		if seen[line] {
			return false
		}
		seen[line] = true
		facts = append(facts, line)
		return len(facts) >= MaxPinnedFacts
	}

	for i := range messages {
		msg := &messages[i]
		text := msg.Text()
		for _, b := range msg.Blocks {
			if b.Type == conversation.BlockToolResult {
				text += "\n" + b.Content
			}
		}
		for _, line := range strings.Split(text, "\n") {
			if !isSalientLine(line) {
				continue
			}
			if add(line) {
				return facts
			}
		}
	}
	return facts
}

// isSalientLine applies the pinned-fact heuristics to one line.
func isSalientLine(line string) bool {
	if absPathPattern.MatchString(line) || urlPattern.MatchString(line) || capsPattern.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, kw := range pinnedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
