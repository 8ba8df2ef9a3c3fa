package models

import "time"

// ExecutionMode is the policy axis governing tool authorization.
type ExecutionMode string

const (
	ModeReadOnly      ExecutionMode = "read_only"
	ModeWorkspaceWrite ExecutionMode = "workspace_write"
	ModeElevated      ExecutionMode = "elevated"
)

// ToolCallEnvelope is the immutable descriptor of one tool invocation
// attempt stream handed to the deterministic tool runtime.
type ToolCallEnvelope struct {
	RunID          string
	SessionID      string
	ToolCallID     string
	ToolName       string
	Arguments      map[string]any
	ExecutionMode  ExecutionMode
	WorkspacePath  string
	TimeoutSeconds int
	MaxRetries     int
	IdempotencyKey string
	RequestedAt    time.Time
}

// FailureInfo classifies an error into the closed taxonomy of §4.3.
type FailureInfo struct {
	Code      string `json:"failure_code"`
	Retryable bool   `json:"retryable"`
	Category  string `json:"failure_category"`
}

// ToPayload renders the failure fields as the map shape required in
// ToolFailed/ProviderFailed event payloads.
func (f FailureInfo) ToPayload() map[string]any {
	return map[string]any{
		"failure_code":     f.Code,
		"retryable":        f.Retryable,
		"failure_category": f.Category,
	}
}

// Stage is the coarse enum tracked by a RunCheckpoint.
type Stage string

const (
	StageReceived      Stage = "received"
	StageReasoning     Stage = "reasoning"
	StageToolExecuting Stage = "tool_executing"
	StageReplying      Stage = "replying"
	StageCompleted     Stage = "completed"
)

// RunCheckpoint is the persisted snapshot that lets the recovery manager
// synthesize a resume message after an interruption.
type RunCheckpoint struct {
	RunID       string         `json:"run_id"`
	SessionID   string         `json:"session_id"`
	Channel     string         `json:"channel"`
	ChatID      string         `json:"chat_id"`
	Stage       Stage          `json:"stage"`
	Iteration   int            `json:"iteration"`
	UserMessage string         `json:"user_message"`
	UserID      string         `json:"user_id,omitempty"`
	UserName    string         `json:"user_name,omitempty"`
	ToolStats   map[string]int `json:"tool_stats,omitempty"`
	PendingConfirmation map[string]any `json:"pending_confirmation,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ReplayReport is returned by offline verification of one run's event log.
type ReplayReport struct {
	RunID            string   `json:"run_id"`
	Signature        string   `json:"signature"`
	EventCount       int      `json:"event_count"`
	HasStart         bool     `json:"has_start"`
	HasEnd           bool     `json:"has_end"`
	ToolRequested    int      `json:"tool_requested"`
	ToolStarted      int      `json:"tool_started"`
	ToolFinished     int      `json:"tool_finished"`
	DeterministicOK  bool     `json:"deterministic_ok"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Passed reports whether the replayed run satisfies all structural checks.
func (r ReplayReport) Passed() bool {
	return r.DeterministicOK && len(r.Errors) == 0
}
