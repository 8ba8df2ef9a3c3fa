// Package runtime implements the deterministic tool runtime: the single
// path through which every tool call is authorized, deduplicated, retried,
// and recorded to the event log.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/failure"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

// ExecutionMetadata describes how a call was actually carried out, recorded
// alongside the outcome in ToolCompleted/ToolFailed payloads.
type ExecutionMetadata struct {
	DurationMS float64 `json:"duration_ms"`
	Attempts   int     `json:"attempts"`
	Cached     bool    `json:"cached"`
}

// Runtime ties the policy engine, tool registry, failure classifier, and
// event store into one deterministic execution path per envelope.
type Runtime struct {
	Registry *tools.Registry
	Policy   *policy.Engine
	Events   *eventstore.Store

	EnableIdempotency bool

	mu    sync.Mutex
	cache map[string]*models.ToolResult
}

// New builds a Runtime with idempotency caching enabled by default.
func New(registry *tools.Registry, eng *policy.Engine, events *eventstore.Store) *Runtime {
	return &Runtime{
		Registry:          registry,
		Policy:            eng,
		Events:            events,
		EnableIdempotency: true,
		cache:             make(map[string]*models.ToolResult),
	}
}

// Execute carries out one tool call end to end: it always records
// ToolRequested first, then authorizes, checks the idempotency cache,
// records ToolStarted, retries on retryable failures up to
// envelope.MaxRetries additional attempts, and records a terminal
// ToolCompleted or ToolFailed event.
func (r *Runtime) Execute(ctx context.Context, envelope models.ToolCallEnvelope, approved bool) (*models.ToolResult, ExecutionMetadata, error) {
	if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolRequested, envelope.RunID, envelope.SessionID, map[string]any{
		"tool_call_id":   envelope.ToolCallID,
		"tool_name":      envelope.ToolName,
		"execution_mode": string(envelope.ExecutionMode),
		"arguments":      envelope.Arguments,
	})); err != nil {
		return nil, ExecutionMetadata{}, err
	}

	decision := r.Policy.Authorize(envelope.ExecutionMode, approved)
	if !decision.Allowed {
		result := &models.ToolResult{Success: false, Error: decision.Reason}
		info := failure.ClassifyText(decision.Reason)
		if strings.Contains(strings.ToLower(decision.Reason), "elevated") || envelope.ExecutionMode == models.ModeElevated {
			info = models.FailureInfo{Code: failure.CodePolicyDenied, Retryable: false, Category: "policy"}
		}
		payload := map[string]any{
			"tool_call_id": envelope.ToolCallID,
			"tool_name":    envelope.ToolName,
			"error":        decision.Reason,
		}
		for k, v := range info.ToPayload() {
			payload[k] = v
		}
		if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolFailed, envelope.RunID, envelope.SessionID, payload)); err != nil {
			return nil, ExecutionMetadata{}, err
		}
		return result, ExecutionMetadata{DurationMS: 0, Attempts: 0, Cached: false}, nil
	}

	key := envelope.IdempotencyKey
	if key == "" {
		key = r.buildIdempotencyKey(envelope)
	}

	if r.EnableIdempotency {
		if cached, ok := r.cached(key); ok {
			if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolCompleted, envelope.RunID, envelope.SessionID, map[string]any{
				"tool_call_id": envelope.ToolCallID,
				"tool_name":    envelope.ToolName,
				"cached":       true,
				"success":      cached.Success,
			})); err != nil {
				return nil, ExecutionMetadata{}, err
			}
			return cached, ExecutionMetadata{DurationMS: 0, Attempts: 0, Cached: true}, nil
		}
	}

	if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolStarted, envelope.RunID, envelope.SessionID, map[string]any{
		"tool_call_id": envelope.ToolCallID,
		"tool_name":    envelope.ToolName,
	})); err != nil {
		return nil, ExecutionMetadata{}, err
	}

	argsJSON, err := json.Marshal(envelope.Arguments)
	if err != nil {
		argsJSON = []byte("{}")
	}

	maxAttempts := envelope.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastResult *models.ToolResult
	attempts := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts++
		result, execErr := r.Registry.Execute(ctx, envelope.ToolName, argsJSON)
		if execErr != nil {
			result = &models.ToolResult{Success: false, Error: execErr.Error()}
		}
		lastResult = result

		if result.Success {
			break
		}
		info := failure.ClassifyText(result.Error)
		if !info.Retryable {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	durationMS := float64(time.Since(start)) / float64(time.Millisecond)
	metadata := ExecutionMetadata{DurationMS: durationMS, Attempts: attempts, Cached: false}

	if lastResult.Success {
		if r.EnableIdempotency {
			r.store(key, lastResult)
		}
		if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolCompleted, envelope.RunID, envelope.SessionID, map[string]any{
			"tool_call_id": envelope.ToolCallID,
			"tool_name":    envelope.ToolName,
			"metadata":     metadataPayload(metadata),
			"success":      true,
			"output":       lastResult.Output,
		})); err != nil {
			return nil, metadata, err
		}
		return lastResult, metadata, nil
	}

	info := failure.ClassifyText(lastResult.Error)
	payload := map[string]any{
		"tool_call_id": envelope.ToolCallID,
		"tool_name":    envelope.ToolName,
		"metadata":     metadataPayload(metadata),
		"error":        lastResult.Error,
	}
	for k, v := range info.ToPayload() {
		payload[k] = v
	}
	if err := r.Events.Append(models.NewRuntimeEvent(models.EventToolFailed, envelope.RunID, envelope.SessionID, payload)); err != nil {
		return nil, metadata, err
	}
	return lastResult, metadata, nil
}

func metadataPayload(m ExecutionMetadata) map[string]any {
	return map[string]any{
		"duration_ms": m.DurationMS,
		"attempts":    m.Attempts,
		"cached":      m.Cached,
	}
}

func (r *Runtime) cached(key string) (*models.ToolResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[key]
	return v, ok
}

func (r *Runtime) store(key string, result *models.ToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = result
}

// buildIdempotencyKey hashes the stable identity of a call: session, tool
// name, arguments, and tool_call_id, so the same logical call made twice
// (e.g. across a retried agent turn) dedupes to one execution.
func (r *Runtime) buildIdempotencyKey(envelope models.ToolCallEnvelope) string {
	keys := make([]string, 0, len(envelope.Arguments))
	for k := range envelope.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(envelope.Arguments))
	for _, k := range keys {
		ordered[k] = envelope.Arguments[k]
	}

	payload, _ := json.Marshal(struct {
		SessionID  string         `json:"session_id"`
		ToolName   string         `json:"tool_name"`
		Arguments  map[string]any `json:"arguments"`
		ToolCallID string         `json:"tool_call_id"`
	}{
		SessionID:  envelope.SessionID,
		ToolName:   envelope.ToolName,
		Arguments:  ordered,
		ToolCallID: envelope.ToolCallID,
	})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
