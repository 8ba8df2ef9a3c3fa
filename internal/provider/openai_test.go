package provider

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomrun/loom/pkg/models"
)

func TestConvertChatMessagesIncludesSystemPrompt(t *testing.T) {
	out := convertChatMessages([]CompletionMessage{{Role: models.RoleUser, Content: "hi"}}, "be terse")
	if len(out) != 2 {
		t.Fatalf("expected system + user message, got %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Fatalf("expected system message first, got %+v", out[0])
	}
}

func TestConvertChatMessagesMapsToolRoleToToolCallID(t *testing.T) {
	out := convertChatMessages([]CompletionMessage{
		{Role: models.RoleTool, Content: "42", ToolCallID: "call_1"},
	}, "")
	if len(out) != 1 || out[0].ToolCallID != "call_1" {
		t.Fatalf("expected tool message with call id, got %+v", out)
	}
}

func TestConvertChatToolsBuildsFunctionDefinitions(t *testing.T) {
	tools := []Tool{fakeTool{name: "lookup", desc: "looks up", schema: json.RawMessage(`{"type":"object"}`)}}
	out := convertChatTools(tools)
	if len(out) != 1 || out[0].Function.Name != "lookup" {
		t.Fatalf("unexpected tool conversion: %+v", out)
	}
}
