package agent

import (
	"encoding/json"
	"testing"

	"github.com/loomrun/loom/pkg/models"
)

func TestExtractToolCallsReturnsNativeCallsUnchanged(t *testing.T) {
	native := []models.ToolCall{{ID: "call-1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)}}
	merged := extractToolCalls(native, "here is my answer")

	if len(merged) != 1 || merged[0].ID != "call-1" {
		t.Fatalf("expected native call to pass through unchanged, got %+v", merged)
	}
}

func TestExtractToolCallsParsesInlineXML(t *testing.T) {
	text := `I'll check that. <tool_call name="list_dir" arguments='{"path":"."}'/> one moment.`
	merged := extractToolCalls(nil, text)

	if len(merged) != 1 {
		t.Fatalf("expected one tool call, got %d", len(merged))
	}
	if merged[0].Name != "list_dir" {
		t.Fatalf("unexpected tool name: %q", merged[0].Name)
	}
	if string(merged[0].Arguments) != `{"path":"."}` {
		t.Fatalf("unexpected arguments: %s", merged[0].Arguments)
	}
}

func TestExtractToolCallsParsesFencedJSON(t *testing.T) {
	text := "Sure, here goes:\n```json\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"b.go\"}}\n```\n"
	merged := extractToolCalls(nil, text)

	if len(merged) != 1 {
		t.Fatalf("expected one tool call, got %d", len(merged))
	}
	if merged[0].Name != "read_file" {
		t.Fatalf("unexpected tool name: %q", merged[0].Name)
	}
}

func TestExtractToolCallsDedupesIdenticalCalls(t *testing.T) {
	native := []models.ToolCall{{ID: "", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)}}
	text := `<tool_call name="read_file" arguments='{"path":"a.go"}'/>`
	merged := extractToolCalls(native, text)

	if len(merged) != 1 {
		t.Fatalf("expected duplicate call to collapse to one entry, got %d: %+v", len(merged), merged)
	}
}

func TestExtractToolCallsReturnsEmptyForPlainText(t *testing.T) {
	merged := extractToolCalls(nil, "no tool calls here at all")
	if len(merged) != 0 {
		t.Fatalf("expected no tool calls, got %+v", merged)
	}
}
