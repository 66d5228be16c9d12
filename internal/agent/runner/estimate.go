package runner

import (
	"github.com/ternlabs/tern/internal/conversation"
)

// CharsPerTokenEstimate is the chars-per-token heuristic. ~4 characters
// per token holds well enough across models for budgeting purposes.
const CharsPerTokenEstimate = 4

// EstimateTokens approximates the token cost of a message set plus an
// optional system prompt as ceil(totalSerializedChars / 4). Pure and
// monotonic: adding any content never decreases the estimate.
func EstimateTokens(messages []conversation.Message, systemPrompt string) int {
	totalChars := len(systemPrompt)
	for i := range messages {
		totalChars += messages[i].SerializedLen()
	}
	return (totalChars + CharsPerTokenEstimate - 1) / CharsPerTokenEstimate
}
