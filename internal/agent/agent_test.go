package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/provider"
	"github.com/loomrun/loom/internal/recovery"
	"github.com/loomrun/loom/internal/runtime"
	"github.com/loomrun/loom/internal/storage"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

// fakeBus captures outbound replies and any autonomous follow-ups, without
// an inbound queue: tests drive processMessage directly rather than Run.
type fakeBus struct {
	mu        sync.Mutex
	outbound  []models.OutboundMessage
	followUps []models.InboundMessage
}

func (b *fakeBus) ConsumeInbound(ctx context.Context) (models.InboundMessage, error) {
	<-ctx.Done()
	return models.InboundMessage{}, ctx.Err()
}

func (b *fakeBus) PublishInbound(ctx context.Context, msg models.InboundMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.followUps = append(b.followUps, msg)
	return nil
}

func (b *fakeBus) PublishOutbound(ctx context.Context, msg models.OutboundMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, msg)
	return nil
}

// fakeProvider returns one canned response per call, in order, looping on
// the last entry if more calls arrive than responses configured.
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	text     string
	toolCall *models.ToolCall
}

func (p *fakeProvider) Name() string                 { return "fake" }
func (p *fakeProvider) Models() []provider.Model      { return nil }
func (p *fakeProvider) SupportsTools() bool           { return true }

func (p *fakeProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (<-chan *provider.CompletionChunk, error) {
	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	p.calls++
	p.mu.Unlock()

	ch := make(chan *provider.CompletionChunk, 2)
	if resp.text != "" {
		ch <- &provider.CompletionChunk{Text: resp.text}
	}
	if resp.toolCall != nil {
		ch <- &provider.CompletionChunk{ToolCall: resp.toolCall}
	}
	ch <- &provider.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

// echoTool is a trivial registered tool used to exercise the execute path.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input argument back" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Success: true, Output: string(args)}, nil
}

func newTestLoop(t *testing.T, prov *fakeProvider, bus *fakeBus, cfg Config) *Loop {
	t.Helper()

	dir := t.TempDir()
	events, err := eventstore.New(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}
	recoveryMgr, err := recovery.New(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatalf("recovery.New: %v", err)
	}

	reg := tools.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register echo tool: %v", err)
	}

	policyEngine := policy.NewEngine()
	rt := runtime.New(reg, policyEngine, events)

	loop, err := New(Deps{
		Bus:      bus,
		Provider: prov,
		Runtime:  rt,
		Policy:   policyEngine,
		Tools:    reg,
		Storage:  storage.NewMemoryBackend(),
		Events:   events,
		Recovery: recoveryMgr,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop
}

func TestProcessMessageReturnsImmediateReplyWithoutToolCalls(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{responses: []fakeResponse{{text: "hello there"}}}
	loop := newTestLoop(t, prov, bus, Config{MaxIterations: 3})

	loop.processMessage(context.Background(), models.InboundMessage{
		Channel: "cli", ChatID: "c1", Content: "just chatting",
	})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.outbound) != 1 || bus.outbound[0].Content != "hello there" {
		t.Fatalf("expected one outbound reply 'hello there', got %+v", bus.outbound)
	}
}

func TestProcessMessageExecutesToolThenRepliesWithResult(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{responses: []fakeResponse{
		{toolCall: &models.ToolCall{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)}},
		{text: "done"},
	}}
	loop := newTestLoop(t, prov, bus, Config{MaxIterations: 5})

	loop.processMessage(context.Background(), models.InboundMessage{
		Channel: "cli", ChatID: "c1", Content: "please run the echo tool",
	})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.outbound) != 1 || bus.outbound[0].Content != "done" {
		t.Fatalf("expected final reply 'done' after tool execution, got %+v", bus.outbound)
	}
}

func TestProcessMessageStopsAtToolCallBudget(t *testing.T) {
	bus := &fakeBus{}
	// Always returns a tool call, never naturally terminating, so the
	// per-message tool-call budget is what must stop the loop.
	prov := &fakeProvider{responses: []fakeResponse{
		{toolCall: &models.ToolCall{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)}},
	}}
	loop := newTestLoop(t, prov, bus, Config{MaxIterations: 10, MaxToolCallsPerMessage: 1})

	loop.processMessage(context.Background(), models.InboundMessage{
		Channel: "cli", ChatID: "c1", Content: "run the echo tool repeatedly",
	})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.outbound) != 1 {
		t.Fatalf("expected exactly one outbound reply, got %d", len(bus.outbound))
	}
}

func TestProcessMessageEnqueuesAutonomousFollowUp(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{responses: []fakeResponse{{text: "I'll check that file now and report back."}}}
	loop := newTestLoop(t, prov, bus, Config{MaxIterations: 3, AutonomousFollowupDepth: 1})

	loop.processMessage(context.Background(), models.InboundMessage{
		Channel: "cli", ChatID: "c1", Content: "can you take a look?",
	})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.followUps) != 1 {
		t.Fatalf("expected one autonomous follow-up, got %d", len(bus.followUps))
	}
	if depth, _ := bus.followUps[0].Metadata["autonomous_followup_depth"].(int); depth != 1 {
		t.Fatalf("expected follow-up depth 1, got %v", bus.followUps[0].Metadata)
	}
}

func TestProcessMessageDoesNotExceedFollowUpDepth(t *testing.T) {
	bus := &fakeBus{}
	prov := &fakeProvider{responses: []fakeResponse{{text: "I'll check that file now and report back."}}}
	loop := newTestLoop(t, prov, bus, Config{MaxIterations: 3, AutonomousFollowupDepth: 1})

	loop.processMessage(context.Background(), models.InboundMessage{
		Channel: "cli", ChatID: "c1", Content: "can you take a look?",
		Metadata: map[string]any{"autonomous_followup_depth": 1},
	})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.followUps) != 0 {
		t.Fatalf("expected no further follow-up at depth limit, got %d", len(bus.followUps))
	}
}
