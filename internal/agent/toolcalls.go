package agent

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"html"
	"regexp"

	"github.com/loomrun/loom/pkg/models"
)

// xmlToolCallPattern matches an inline tool call of the form the loop
// accepts as a fallback for providers that embed calls in plain text rather
// than a native structure: <tool_call name="..." arguments='...'/>.
var xmlToolCallPattern = regexp.MustCompile(`<tool_call\s+name="([^"]+)"\s+arguments='([^']*)'\s*/>`)

// fencedJSONToolCallPattern matches a fenced JSON block carrying {name, arguments}.
var fencedJSONToolCallPattern = regexp.MustCompile(`(?s)` + "```json" + `\s*(\{.*?\})\s*` + "```")

type fencedToolCallPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// extractToolCalls merges tool calls found via the provider's native
// structure with any found inline in text, in that priority order, and
// dedupes by id. Native calls keep their provider-assigned id; calls parsed
// out of text are assigned a content-derived id so the same literal call
// appearing twice (e.g. echoed in both a native structure and the text) or
// lifted from several text matches collapses to one entry.
func extractToolCalls(native []models.ToolCall, text string) []models.ToolCall {
	seen := make(map[string]bool, len(native))
	merged := make([]models.ToolCall, 0, len(native))

	for _, tc := range native {
		id := tc.ID
		if id == "" {
			id = toolCallContentID(tc.Name, tc.Arguments)
			tc.ID = id
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, tc)
	}

	for _, match := range xmlToolCallPattern.FindAllStringSubmatch(text, -1) {
		name := html.UnescapeString(match[1])
		args := json.RawMessage(html.UnescapeString(match[2]))
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		id := toolCallContentID(name, args)
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, models.ToolCall{ID: id, Name: name, Arguments: args})
	}

	for _, match := range fencedJSONToolCallPattern.FindAllStringSubmatch(text, -1) {
		var payload fencedToolCallPayload
		if err := json.Unmarshal([]byte(match[1]), &payload); err != nil || payload.Name == "" {
			continue
		}
		args := payload.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		id := toolCallContentID(payload.Name, args)
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, models.ToolCall{ID: id, Name: payload.Name, Arguments: args})
	}

	return merged
}

func toolCallContentID(name string, args json.RawMessage) string {
	sum := sha1.Sum([]byte(name + ":" + string(args)))
	return hex.EncodeToString(sum[:])
}
