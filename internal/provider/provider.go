// Package provider unifies LLM backends (Anthropic, OpenAI, Bedrock) behind
// one streaming completion interface so the agent loop never branches on
// vendor.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loomrun/loom/pkg/models"
)

// Model describes one selectable model's capabilities.
type Model struct {
	ID          string
	Name        string
	ContextSize int
}

// Tool is the subset of a registered tool a provider needs to build its
// vendor-specific tool-definition payload.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

// CompletionMessage is one turn in the conversation handed to a provider.
// A RoleTool message carries ToolCallID identifying which call it answers;
// all other roles leave it empty.
type CompletionMessage struct {
	Role       models.Role
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
}

// CompletionChunk is one unit of a streamed response. Exactly one of Text,
// ToolCall, Error is meaningful per chunk; Done marks stream end.
type CompletionChunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Provider is the capability every LLM backend implements.
type Provider interface {
	Name() string
	Models() []Model
	SupportsTools() bool
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// Retrier runs an operation with linear backoff, stopping early on success,
// a non-retryable error, or context cancellation.
type Retrier struct {
	MaxRetries int
	RetryDelay time.Duration
}

// NewRetrier builds a Retrier with the given bounds, defaulting to 3
// retries and a 1 second base delay when given non-positive values.
func NewRetrier(maxRetries int, retryDelay time.Duration) Retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return Retrier{MaxRetries: maxRetries, RetryDelay: retryDelay}
}

// Run invokes op up to 1+MaxRetries times, linearly increasing the delay
// between attempts, stopping as soon as op succeeds, isRetryable reports an
// error as permanent, or ctx is done.
func (r Retrier) Run(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.RetryDelay * time.Duration(attempt+1)):
		}
	}
	return lastErr
}
