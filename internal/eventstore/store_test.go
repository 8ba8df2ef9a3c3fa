package eventstore

import (
	"path/filepath"
	"testing"

	"github.com/loomrun/loom/pkg/models"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "events.jsonl"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSignatureIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	runID := "run-1"

	if err := s.Append(models.NewRuntimeEvent(models.EventRunStarted, runID, "sess-1", map[string]any{"channel": "cli"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(models.NewRuntimeEvent(models.EventRunCompleted, runID, "sess-1", map[string]any{"iterations": 1, "is_error": false})); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sig1, err := s.Signature(runID)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	sig2, err := s.Signature(runID)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	if sig1 != sig2 {
		t.Errorf("signature not idempotent: %q != %q", sig1, sig2)
	}

	reopened, err := New(s.path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sig3, err := reopened.Signature(runID)
	if err != nil {
		t.Fatalf("Signature after reopen: %v", err)
	}
	if sig3 != sig1 {
		t.Errorf("signature changed after reopening store: %q != %q", sig3, sig1)
	}
}

func TestIterMissingRunReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	events, err := s.Iter("does-not-exist", 0)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected empty slice, got %d events", len(events))
	}
}

func TestRedactionReplacesOutputFields(t *testing.T) {
	s := newTestStore(t, WithRedaction(true))
	runID := "run-2"

	if err := s.Append(models.NewRuntimeEvent(models.EventToolCompleted, runID, "sess-1", map[string]any{
		"tool_call_id": "tc-1",
		"tool_name":    "shell",
		"success":      true,
		"output":       "secret contents",
	})); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Iter(runID, 0)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Payload["output"] != redactionSentinel {
		t.Errorf("expected redacted output, got %v", events[0].Payload["output"])
	}
}

func TestAppendOrderIsPreserved(t *testing.T) {
	s := newTestStore(t)
	runID := "run-3"

	for i := 0; i < 5; i++ {
		if err := s.Append(models.NewRuntimeEvent(models.EventToolRequested, runID, "sess-1", map[string]any{"tool_call_id": i})); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := s.Iter(runID, 0)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		tcid, _ := ev.Payload["tool_call_id"].(float64)
		if int(tcid) != i {
			t.Errorf("event %d out of order: tool_call_id=%v", i, ev.Payload["tool_call_id"])
		}
	}
}
