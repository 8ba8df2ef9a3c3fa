package runtime

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

type echoTool struct{ fail bool }

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes input" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	if t.fail {
		return &models.ToolResult{Success: false, Error: "connection reset: network unavailable"}, nil
	}
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &in)
	return &models.ToolResult{Success: true, Output: in.Text}, nil
}

func newTestRuntime(t *testing.T, tool tools.Tool) (*Runtime, *eventstore.Store) {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	store, err := eventstore.New(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}
	return New(reg, policy.NewEngine(), store), store
}

func TestExecuteSuccessRecordsFullSequence(t *testing.T) {
	rt, store := newTestRuntime(t, &echoTool{})
	env := models.ToolCallEnvelope{
		RunID: "run-1", SessionID: "sess-1", ToolCallID: "tc-1", ToolName: "echo",
		Arguments: map[string]any{"text": "hi"}, ExecutionMode: models.ModeReadOnly,
	}

	result, meta, err := rt.Execute(context.Background(), env, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Output != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if meta.Attempts != 1 || meta.Cached {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	events, err := store.Iter("run-1", 0)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	wantTypes := []models.RuntimeEventType{
		models.EventToolRequested, models.EventToolStarted, models.EventToolCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Errorf("event %d: got %s, want %s", i, events[i].EventType, want)
		}
	}
}

func TestExecuteIdempotencyCacheSkipsSecondRun(t *testing.T) {
	rt, store := newTestRuntime(t, &echoTool{})
	env := models.ToolCallEnvelope{
		RunID: "run-2", SessionID: "sess-1", ToolCallID: "tc-1", ToolName: "echo",
		Arguments: map[string]any{"text": "hi"}, ExecutionMode: models.ModeReadOnly,
	}

	if _, _, err := rt.Execute(context.Background(), env, false); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	result, meta, err := rt.Execute(context.Background(), env, false)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if !meta.Cached || !result.Success {
		t.Fatalf("expected cached success, got %+v / %+v", result, meta)
	}

	events, _ := store.Iter("run-2", 0)
	completed := 0
	for _, ev := range events {
		if ev.EventType == models.EventToolCompleted {
			completed++
		}
	}
	if completed != 2 {
		t.Fatalf("expected 2 ToolCompleted events (one real, one cached), got %d", completed)
	}
}

func TestExecuteElevatedWithoutApprovalIsDenied(t *testing.T) {
	rt, store := newTestRuntime(t, &echoTool{})
	env := models.ToolCallEnvelope{
		RunID: "run-3", SessionID: "sess-1", ToolCallID: "tc-1", ToolName: "echo",
		Arguments: map[string]any{"text": "hi"}, ExecutionMode: models.ModeElevated,
	}

	result, meta, err := rt.Execute(context.Background(), env, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected denial, got success")
	}
	if meta.Attempts != 0 {
		t.Fatalf("expected 0 attempts for policy denial, got %d", meta.Attempts)
	}

	events, _ := store.Iter("run-3", 0)
	if len(events) != 2 {
		t.Fatalf("expected ToolRequested + ToolFailed, got %d events", len(events))
	}
	failed := events[1]
	if failed.EventType != models.EventToolFailed {
		t.Fatalf("expected ToolFailed, got %s", failed.EventType)
	}
	if failed.Payload["failure_code"] != "policy_denied" {
		t.Errorf("expected failure_code=policy_denied, got %v", failed.Payload["failure_code"])
	}
	if failed.Payload["retryable"] != false {
		t.Errorf("expected retryable=false, got %v", failed.Payload["retryable"])
	}
}

func TestExecuteRetriesRetryableFailures(t *testing.T) {
	rt, _ := newTestRuntime(t, &echoTool{fail: true})
	env := models.ToolCallEnvelope{
		RunID: "run-4", SessionID: "sess-1", ToolCallID: "tc-1", ToolName: "echo",
		Arguments: map[string]any{"text": "hi"}, ExecutionMode: models.ModeReadOnly, MaxRetries: 2,
	}

	result, meta, err := rt.Execute(context.Background(), env, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if meta.Attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", meta.Attempts)
	}
}
