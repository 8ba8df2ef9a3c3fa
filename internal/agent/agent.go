// Package agent implements the per-turn orchestrator: it dequeues one
// InboundMessage at a time, drives the provider/tool-call/storage cycle
// described by the turn algorithm, and produces at most one
// OutboundMessage plus a trail of runtime events and a resumable
// checkpoint.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/failure"
	"github.com/loomrun/loom/internal/observability"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/provider"
	"github.com/loomrun/loom/internal/recovery"
	"github.com/loomrun/loom/internal/runtime"
	"github.com/loomrun/loom/internal/storage"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

// Bus is the subset of the message bus the loop depends on: it consumes
// inbound messages and produces outbound ones, and also carries its own
// self-prompted autonomous follow-ups back onto the inbound side.
type Bus interface {
	ConsumeInbound(ctx context.Context) (models.InboundMessage, error)
	PublishInbound(ctx context.Context, msg models.InboundMessage) error
	PublishOutbound(ctx context.Context, msg models.OutboundMessage) error
}

// ErrNoProvider is returned by New when no provider is configured.
var ErrNoProvider = errors.New("agent: no provider configured")

// Loop is the per-turn orchestrator: provider <-> tools <-> storage.
type Loop struct {
	bus      Bus
	provider provider.Provider
	runtime  *runtime.Runtime
	policy   *policy.Engine
	toolReg  *tools.Registry
	store    storage.Backend
	events   *eventstore.Store
	recover  *recovery.Manager
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
	config   Config

	mu    sync.Mutex
	chats map[string]*chatState
}

// Deps bundles every collaborator the loop wires together. Metrics, Tracer,
// Tools and Logger are optional (a nil Logger falls back to slog.Default);
// New returns an error if any other collaborator is nil.
type Deps struct {
	Bus       Bus
	Provider  provider.Provider
	Runtime   *runtime.Runtime
	Policy    *policy.Engine
	Tools     *tools.Registry
	Storage   storage.Backend
	Events    *eventstore.Store
	Recovery  *recovery.Manager
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Logger    *slog.Logger
	Config    Config
}

// New builds a Loop from deps, applying Config defaults. Returns an error
// if any required collaborator is nil.
func New(deps Deps) (*Loop, error) {
	if deps.Provider == nil {
		return nil, ErrNoProvider
	}
	if deps.Bus == nil {
		return nil, errors.New("agent: no bus configured")
	}
	if deps.Runtime == nil {
		return nil, errors.New("agent: no runtime configured")
	}
	if deps.Policy == nil {
		return nil, errors.New("agent: no policy engine configured")
	}
	if deps.Storage == nil {
		return nil, errors.New("agent: no storage backend configured")
	}
	if deps.Events == nil {
		return nil, errors.New("agent: no event store configured")
	}
	if deps.Recovery == nil {
		return nil, errors.New("agent: no recovery manager configured")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		bus:      deps.Bus,
		provider: deps.Provider,
		runtime:  deps.Runtime,
		policy:   deps.Policy,
		toolReg:  deps.Tools,
		store:    deps.Storage,
		events:   deps.Events,
		recover:  deps.Recovery,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   logger.With("component", "agent"),
		config:   deps.Config.withDefaults(),
		chats:    make(map[string]*chatState),
	}, nil
}

// Run consumes inbound messages until ctx is cancelled. Turns for distinct
// chats process concurrently; this method itself never blocks a turn on
// another chat's work, only on the bus being empty.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		wg.Add(1)
		go func(msg models.InboundMessage) {
			defer wg.Done()
			l.processMessage(ctx, msg)
		}(msg)
	}
}

// processMessage runs one full turn for msg: steps 1-6 of the turn
// algorithm, plus the autonomous follow-up check.
func (l *Loop) processMessage(ctx context.Context, msg models.InboundMessage) {
	state := l.stateFor(msg.Channel, msg.ChatID)
	state.mu.Lock()
	defer state.mu.Unlock()

	sessionID := state.sessionID
	runID := uuid.NewString()

	if l.tracer != nil {
		var end func()
		ctx, end = l.startRunSpan(ctx, runID, msg)
		defer end()
	}

	runStartedPayload := map[string]any{
		"channel":         msg.Channel,
		"chat_id":         msg.ChatID,
		"engine":          l.config.Engine,
		"engine_resolved": l.config.Engine,
	}
	if resumed, _ := msg.Metadata["recovery_resume"].(bool); resumed {
		if sourceRunID, _ := msg.Metadata["recovery_run_id"].(string); sourceRunID != "" {
			runStartedPayload["recovery_resume_from"] = sourceRunID
		}
	}
	l.appendEvent(models.NewRuntimeEvent(models.EventRunStarted, runID, sessionID, runStartedPayload))

	checkpoint := models.RunCheckpoint{
		RunID:       runID,
		SessionID:   sessionID,
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		Stage:       models.StageReceived,
		UserMessage: msg.Content,
		UserID:      msg.UserID,
		UserName:    msg.UserName,
	}
	l.saveCheckpoint(checkpoint)

	if err := l.store.StoreMessage(ctx, &models.Message{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   msg.Content,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		l.appendEvent(models.NewRuntimeEvent(models.EventStorageFailed, runID, sessionID, map[string]any{"error": err.Error(), "op": "store_message"}))
	}

	armed := needsTools(msg.Content)

	reply, iterations, isError := l.iterate(ctx, runID, sessionID, checkpoint, armed)

	preview := reply
	if len(preview) > 200 {
		preview = preview[:200]
	}
	l.appendEvent(models.NewRuntimeEvent(models.EventRunCompleted, runID, sessionID, map[string]any{
		"iterations":       iterations,
		"is_error":         isError,
		"response_preview": preview,
	}))
	l.recordRunMetric(isError)

	if !isError {
		if err := l.recover.MarkCompleted(runID); err != nil {
			l.logger.Warn("failed to clear checkpoint", "run_id", runID, "error", err)
		}
	}

	if err := l.bus.PublishOutbound(ctx, models.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}); err != nil {
		l.appendEvent(models.NewRuntimeEvent(models.EventChannelFailed, runID, sessionID, map[string]any{"error": err.Error(), "op": "publish_outbound"}))
		l.logger.Warn("failed to publish outbound message", "run_id", runID, "error", err)
	}

	l.maybeFollowUp(ctx, msg, reply, isError)
}

func (l *Loop) maybeFollowUp(ctx context.Context, msg models.InboundMessage, reply string, isError bool) {
	if isError || !isCommitment(reply) {
		return
	}

	depth := 0
	if msg.Metadata != nil {
		switch v := msg.Metadata["autonomous_followup_depth"].(type) {
		case int:
			depth = v
		case float64:
			depth = int(v)
		}
	}
	if depth >= l.config.AutonomousFollowupDepth {
		return
	}

	followUp := models.InboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  reply,
		UserID:   msg.UserID,
		UserName: msg.UserName,
		Metadata: map[string]any{
			"internal_autonomous_followup": true,
			"autonomous_followup_depth":    depth + 1,
		},
	}
	if err := l.bus.PublishInbound(ctx, followUp); err != nil {
		l.logger.Warn("failed to enqueue autonomous follow-up", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// iterate runs the bounded provider/tool-call cycle (step 5 of the turn
// algorithm) and returns the final reply content, the iteration count
// reached, and whether the turn ended in an error.
func (l *Loop) iterate(ctx context.Context, runID, sessionID string, checkpoint models.RunCheckpoint, armed bool) (string, int, bool) {
	toolCallsUsed := 0

	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return "This run was cancelled.", iteration, true
		}

		checkpoint.Stage = models.StageReasoning
		checkpoint.Iteration = iteration
		l.saveCheckpoint(checkpoint)

		history, err := l.store.GetMessages(ctx, sessionID, 0)
		if err != nil {
			l.appendEvent(models.NewRuntimeEvent(models.EventStorageFailed, runID, sessionID, map[string]any{"error": err.Error(), "op": "get_messages"}))
			return "I couldn't load the conversation history for this chat.", iteration, true
		}

		trimmed := trimHistory(history, l.config.ContextWindow, l.config.ContextCharBudget)

		req := &provider.CompletionRequest{
			Model:     l.config.DefaultModel,
			System:    l.config.SystemPrompt,
			Messages:  toCompletionMessages(trimmed),
			MaxTokens: l.config.MaxTokens,
		}
		if armed {
			req.Tools = l.providerTools()
		}

		text, toolCalls, err := l.callProvider(ctx, runID, sessionID, req)
		if err != nil {
			return "I ran into a problem talking to the language model and had to stop.", iteration + 1, true
		}

		assistantMsg := &models.Message{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.StoreMessage(ctx, assistantMsg); err != nil {
			l.appendEvent(models.NewRuntimeEvent(models.EventStorageFailed, runID, sessionID, map[string]any{"error": err.Error(), "op": "store_message"}))
		}

		if len(toolCalls) == 0 {
			return text, iteration + 1, false
		}

		checkpoint.Stage = models.StageToolExecuting
		l.saveCheckpoint(checkpoint)

		for _, call := range toolCalls {
			toolCallsUsed++
			if l.config.MaxToolCallsPerMessage > 0 && toolCallsUsed > l.config.MaxToolCallsPerMessage {
				return fmt.Sprintf("I've reached the limit of %d tool calls for this message and have to stop here.", l.config.MaxToolCallsPerMessage), iteration + 1, true
			}

			result := l.executeToolCall(ctx, runID, sessionID, call)
			content := result.Output
			if !result.Success {
				content = result.Error
			}
			if err := l.store.StoreMessage(ctx, &models.Message{
				SessionID:  sessionID,
				Role:       models.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				CreatedAt:  time.Now().UTC(),
			}); err != nil {
				l.appendEvent(models.NewRuntimeEvent(models.EventStorageFailed, runID, sessionID, map[string]any{"error": err.Error(), "op": "store_message"}))
			}
		}

		checkpoint.Stage = models.StageReplying
		l.saveCheckpoint(checkpoint)
	}

	return fmt.Sprintf("I reached the maximum of %d iterations for this turn without a final answer.", l.config.MaxIterations), l.config.MaxIterations, true
}

func (l *Loop) executeToolCall(ctx context.Context, runID, sessionID string, call models.ToolCall) *models.ToolResult {
	var args map[string]any
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &args)
	}

	mode := l.policy.InferMode(call.Name, args)
	approved := mode != models.ModeElevated || l.config.AllowElevated

	envelope := models.ToolCallEnvelope{
		RunID:          runID,
		SessionID:      sessionID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Arguments:      args,
		ExecutionMode:  mode,
		WorkspacePath:  l.config.WorkspacePath,
		TimeoutSeconds: l.config.ToolTimeoutSeconds,
		MaxRetries:     l.config.ToolMaxRetries,
		RequestedAt:    time.Now().UTC(),
	}

	var toolCtx context.Context = ctx
	if l.config.ToolTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, time.Duration(l.config.ToolTimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, metadata, err := l.runtime.Execute(toolCtx, envelope, approved)
	if err != nil {
		l.logger.Error("tool runtime execution failed", "run_id", runID, "tool_name", call.Name, "error", err)
		return &models.ToolResult{Success: false, Error: err.Error()}
	}
	l.recordToolMetric(call.Name, result.Success, metadata.DurationMS)
	return result
}

// callProvider calls the provider with retries on classified-retryable
// failures, accumulating the streamed response into final text and a list
// of native tool calls, then merges in any tool calls embedded in the text.
func (l *Loop) callProvider(ctx context.Context, runID, sessionID string, req *provider.CompletionRequest) (string, []models.ToolCall, error) {
	retrier := provider.NewRetrier(l.config.ProviderMaxRetries, l.config.ProviderRetryDelay)

	var text strings.Builder
	var native []models.ToolCall
	start := time.Now()

	err := retrier.Run(ctx, func(err error) bool {
		return failure.ClassifyProviderError(failure.ProviderErrNone, 0, err.Error()).Retryable
	}, func() error {
		text.Reset()
		native = nil

		chunks, err := l.provider.Complete(ctx, req)
		if err != nil {
			l.recordProviderFailure(runID, sessionID, err)
			return err
		}
		for chunk := range chunks {
			if chunk.Error != nil {
				l.recordProviderFailure(runID, sessionID, chunk.Error)
				return chunk.Error
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				native = append(native, *chunk.ToolCall)
			}
			if chunk.Done {
				break
			}
		}
		return nil
	})

	duration := time.Since(start).Seconds()
	if l.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		l.metrics.ProviderCalls.WithLabelValues(l.provider.Name(), outcome).Inc()
		l.metrics.ProviderCallDuration.WithLabelValues(l.provider.Name(), req.Model).Observe(duration)
	}

	if err != nil {
		return "", nil, err
	}

	return text.String(), extractToolCalls(native, text.String()), nil
}

func (l *Loop) recordProviderFailure(runID, sessionID string, err error) {
	info := failure.ClassifyProviderError(failure.ProviderErrNone, 0, err.Error())
	payload := map[string]any{
		"provider": l.provider.Name(),
		"error":    err.Error(),
	}
	for k, v := range info.ToPayload() {
		payload[k] = v
	}
	l.appendEvent(models.NewRuntimeEvent(models.EventProviderFailed, runID, sessionID, payload))
}

func (l *Loop) providerTools() []provider.Tool {
	if l.toolReg == nil {
		return nil
	}
	all := l.toolReg.All()
	out := make([]provider.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, t)
	}
	return out
}

func (l *Loop) appendEvent(event models.RuntimeEvent) {
	if err := l.events.Append(event); err != nil {
		l.logger.Error("failed to append runtime event", "event_type", event.EventType, "run_id", event.RunID, "error", err)
	}
}

func (l *Loop) saveCheckpoint(checkpoint models.RunCheckpoint) {
	if err := l.recover.Save(checkpoint); err != nil {
		l.logger.Warn("failed to save checkpoint", "run_id", checkpoint.RunID, "error", err)
	}
}

func (l *Loop) recordRunMetric(isError bool) {
	if l.metrics == nil {
		return
	}
	l.metrics.Runs.WithLabelValues(fmt.Sprintf("%t", isError)).Inc()
}

func (l *Loop) recordToolMetric(toolName string, success bool, durationMS float64) {
	if l.metrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	l.metrics.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	l.metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationMS / 1000)
}

func (l *Loop) startRunSpan(ctx context.Context, runID string, msg models.InboundMessage) (context.Context, func()) {
	spanCtx, span := l.tracer.Start(ctx, "agent.run")
	return spanCtx, func() { span.End() }
}
