package agent

import "time"

// Config bounds one agent loop's turn behavior. The CLI entrypoint builds
// this from the process configuration; nothing in this package reads a
// config file directly.
type Config struct {
	// MaxIterations bounds provider round-trips within a single turn.
	MaxIterations int
	// MaxToolCallsPerMessage bounds total tool invocations within a turn.
	MaxToolCallsPerMessage int
	// ContextWindow bounds the number of trailing history entries considered.
	ContextWindow int
	// ContextCharBudget bounds the total character length of trailing history.
	ContextCharBudget int
	// ToolTimeoutSeconds is stamped onto every ToolCallEnvelope.
	ToolTimeoutSeconds int
	// ToolMaxRetries is stamped onto every ToolCallEnvelope.
	ToolMaxRetries int
	// ProviderMaxRetries bounds provider call retry attempts.
	ProviderMaxRetries int
	// ProviderRetryDelay is the base linear backoff delay between retries.
	ProviderRetryDelay time.Duration
	// MaxTokens is the default max tokens requested per completion.
	MaxTokens int
	// WorkspacePath is stamped onto every ToolCallEnvelope.
	WorkspacePath string
	// Engine names the execution engine reported in RunStarted events.
	Engine string
	// DefaultModel is used when a completion request does not override it.
	DefaultModel string
	// SystemPrompt is the identity-derived system prompt prefixed to every
	// completion request.
	SystemPrompt string
	// AllowElevated authorizes elevated-mode tool calls without an
	// interactive approval step. Defaults to false: elevated calls are
	// denied unless explicitly turned on.
	AllowElevated bool
	// AutonomousFollowupDepth bounds how many autonomous self-prompted
	// follow-up turns a single inbound message may trigger.
	AutonomousFollowupDepth int
}

// DefaultConfig returns the loop's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:           10,
		MaxToolCallsPerMessage:  8,
		ContextWindow:           50,
		ContextCharBudget:       24000,
		ToolTimeoutSeconds:      30,
		ToolMaxRetries:          2,
		ProviderMaxRetries:      3,
		ProviderRetryDelay:      500 * time.Millisecond,
		MaxTokens:               4096,
		Engine:                  "native",
		AutonomousFollowupDepth: 1,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaults.MaxIterations
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = defaults.ContextWindow
	}
	if c.ContextCharBudget <= 0 {
		c.ContextCharBudget = defaults.ContextCharBudget
	}
	if c.ProviderMaxRetries <= 0 {
		c.ProviderMaxRetries = defaults.ProviderMaxRetries
	}
	if c.ProviderRetryDelay <= 0 {
		c.ProviderRetryDelay = defaults.ProviderRetryDelay
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.Engine == "" {
		c.Engine = defaults.Engine
	}
	if c.AutonomousFollowupDepth <= 0 {
		c.AutonomousFollowupDepth = defaults.AutonomousFollowupDepth
	}
	return c
}
