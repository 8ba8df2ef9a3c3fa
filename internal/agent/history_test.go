package agent

import (
	"strings"
	"testing"

	"github.com/loomrun/loom/pkg/models"
)

func messagesOfLength(n int, each int) []*models.Message {
	out := make([]*models.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.Message{Content: strings.Repeat("x", each)})
	}
	return out
}

func TestTrimHistoryEnforcesCountBoundFirst(t *testing.T) {
	messages := messagesOfLength(10, 1)
	trimmed := trimHistory(messages, 3, 0)

	if len(trimmed) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(trimmed))
	}
}

func TestTrimHistoryEnforcesCharBudgetAfterCount(t *testing.T) {
	messages := messagesOfLength(5, 10)
	trimmed := trimHistory(messages, 0, 25)

	total := 0
	for _, m := range trimmed {
		total += len(m.Content)
	}
	if total > 25 {
		t.Fatalf("expected trimmed history within char budget, got %d chars across %d messages", total, len(trimmed))
	}
	if len(trimmed) != 2 {
		t.Fatalf("expected 2 messages to fit a 25-char budget of 10-char messages, got %d", len(trimmed))
	}
}

func TestTrimHistoryDropsOldestFirstPreservingOrder(t *testing.T) {
	messages := []*models.Message{
		{Content: "first"},
		{Content: "second"},
		{Content: "third"},
	}
	trimmed := trimHistory(messages, 2, 0)

	if len(trimmed) != 2 || trimmed[0].Content != "second" || trimmed[1].Content != "third" {
		t.Fatalf("expected [second third], got %+v", trimmed)
	}
}

func TestTrimHistoryNoBoundsReturnsAllMessages(t *testing.T) {
	messages := messagesOfLength(4, 1)
	trimmed := trimHistory(messages, 0, 0)

	if len(trimmed) != 4 {
		t.Fatalf("expected all 4 messages with no bounds, got %d", len(trimmed))
	}
}
