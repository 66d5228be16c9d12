package runner

import (
	"strings"
	"testing"

	"github.com/ternlabs/tern/internal/conversation"
)

func TestEstimateTokensCeiling(t *testing.T) {
	cases := []struct {
		chars int
		want  int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{8, 2},
		{9, 3},
	}
	for _, tc := range cases {
		msgs := []conversation.Message{conversation.UserText(strings.Repeat("a", tc.chars))}
		if got := EstimateTokens(msgs, ""); got != tc.want {
			t.Errorf("%d chars: expected %d tokens, got %d", tc.chars, tc.want, got)
		}
	}
}

func TestEstimateTokensIncludesSystemPrompt(t *testing.T) {
	msgs := []conversation.Message{conversation.UserText("abcd")}
	without := EstimateTokens(msgs, "")
	with := EstimateTokens(msgs, strings.Repeat("s", 40))
	if with != without+10 {
		t.Errorf("expected system prompt to add 10 tokens, got %d vs %d", with, without)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	msgs := []conversation.Message{conversation.UserText("hello")}
	base := EstimateTokens(msgs, "")

	grown := append(msgs, conversation.AssistantBlocks([]conversation.ContentBlock{
		conversation.ToolUseBlock("id1", "read_file", map[string]any{"path": "a.txt"}),
	}))
	if EstimateTokens(grown, "") <= base {
		t.Error("adding a message must increase the estimate")
	}

	withResult := append(grown, conversation.ToolResults([]conversation.ContentBlock{
		conversation.ToolResultBlock("id1", "contents"),
	}))
	if EstimateTokens(withResult, "") <= EstimateTokens(grown, "") {
		t.Error("adding a tool result must increase the estimate")
	}
}
