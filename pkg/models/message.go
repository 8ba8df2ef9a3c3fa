// Package models holds the wire-level and persisted data types shared across
// the bus, runtime, and storage layers.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	ChannelCLI      ChannelType = "cli"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
)

// Role indicates the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// InboundMessage is published by a channel adapter onto the bus. Once
// published it is immutable and is consumed exactly once by the agent loop.
type InboundMessage struct {
	Channel  string         `json:"channel"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	UserID   string         `json:"user_id,omitempty"`
	UserName string         `json:"user_name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OutboundMessage is produced by the agent loop and consumed by exactly one
// adapter: the one whose registered name equals Channel.
type OutboundMessage struct {
	Channel  string         `json:"channel"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool within a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one tool execution attempt.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Session identifies a conversation thread. Identity is (Channel, ChatID);
// SessionID is a stable derived identifier. The core never destroys sessions.
type Session struct {
	SessionID string      `json:"session_id"`
	Channel   ChannelType `json:"channel"`
	ChatID    string      `json:"chat_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
