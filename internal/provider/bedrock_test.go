package provider

import (
	"encoding/json"
	"testing"

	"github.com/loomrun/loom/pkg/models"
)

func TestConvertConverseMessagesSkipsSystemRole(t *testing.T) {
	out, err := convertConverseMessages([]CompletionMessage{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("convertConverseMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected system message to be skipped, got %d messages", len(out))
	}
}

func TestConvertConverseMessagesCarriesToolUseAndResults(t *testing.T) {
	out, err := convertConverseMessages([]CompletionMessage{
		{
			Role:      models.RoleAssistant,
			Content:   "checking",
			ToolCalls: []models.ToolCall{{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}},
		},
		{Role: models.RoleTool, Content: "result", ToolCallID: "call_1"},
	})
	if err != nil {
		t.Fatalf("convertConverseMessages: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}

func TestToBedrockDocumentRejectsNonObjectPayload(t *testing.T) {
	if _, err := toBedrockDocument(json.RawMessage(`"just a string"`)); err == nil {
		t.Fatal("expected error for non-object document payload")
	}
}

func TestToBedrockDocumentDefaultsEmptyPayload(t *testing.T) {
	doc, err := toBedrockDocument(nil)
	if err != nil {
		t.Fatalf("toBedrockDocument: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}
