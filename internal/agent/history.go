package agent

import (
	"github.com/loomrun/loom/internal/provider"
	"github.com/loomrun/loom/pkg/models"
)

// trimHistory bounds messages by count first, then by total character
// budget, dropping the oldest entries first and preserving relative order.
// The count bound runs before the character bound per this loop's resolved
// trimming order.
func trimHistory(messages []*models.Message, maxCount, maxChars int) []*models.Message {
	trimmed := messages
	if maxCount > 0 && len(trimmed) > maxCount {
		trimmed = trimmed[len(trimmed)-maxCount:]
	}

	if maxChars > 0 {
		total := 0
		start := 0
		for i := len(trimmed) - 1; i >= 0; i-- {
			total += len(trimmed[i].Content)
			if total > maxChars {
				start = i + 1
				break
			}
		}
		trimmed = trimmed[start:]
	}

	return trimmed
}

// toCompletionMessages projects persisted history onto the provider-facing
// message shape.
func toCompletionMessages(messages []*models.Message) []provider.CompletionMessage {
	out := make([]provider.CompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, provider.CompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
