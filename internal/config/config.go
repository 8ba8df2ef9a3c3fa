// Package config loads and validates the process-wide configuration object:
// provider choice and models, agent limits, rate-limit quotas, channel
// credentials, and observability settings. Nothing in the runtime reads a
// config file directly; everything downstream is constructed from the
// *Config this package returns.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, resolved once at process
// construction. There is no hot-reload; a changed file takes effect only on
// the next process start.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	Provider      ProviderConfig      `yaml:"provider"`
	Channels      ChannelsConfig      `yaml:"channels"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Storage       StorageConfig       `yaml:"storage"`
	Replay        ReplayConfig        `yaml:"replay"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig controls the agent loop's turn limits.
type AgentConfig struct {
	MaxIterations          int           `yaml:"max_iterations"`
	ContextWindow          int           `yaml:"context_window"`
	ContextCharBudget      int           `yaml:"context_char_budget"`
	MaxToolCallsPerMessage int           `yaml:"max_tool_calls_per_message"`
	Temperature            float64       `yaml:"temperature"`
	MaxHistory             int           `yaml:"max_history"`
	RuntimeEngine          string        `yaml:"runtime_engine"`
	ToolTimeout            time.Duration `yaml:"tool_timeout"`
}

// ProviderConfig selects the active completion provider and its credentials.
// Exactly one of the named provider blocks needs credentials filled in; which
// one depends on Default.
type ProviderConfig struct {
	// Default is one of "anthropic", "openai", "bedrock".
	Default      string             `yaml:"default"`
	DefaultModel string             `yaml:"default_model"`
	MaxRetries   int                `yaml:"max_retries"`
	RetryDelay   time.Duration      `yaml:"retry_delay"`
	Anthropic    AnthropicConfig    `yaml:"anthropic"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Bedrock      BedrockConfig      `yaml:"bedrock"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type BedrockConfig struct {
	Region       string `yaml:"region"`
	DefaultModel string `yaml:"default_model"`
}

// ChannelsConfig configures the inbound/outbound messaging adapters. At
// least one of these must be enabled.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
}

// RateLimitConfig configures the outbound sliding-window limiter.
type RateLimitConfig struct {
	// Mode is "strict" (deny over quota) or "lenient" (allow with a warning).
	Mode          string        `yaml:"mode"`
	Window        time.Duration `yaml:"window"`
	MaxPerWindow  int           `yaml:"max_per_window"`
}

// StorageConfig configures the persistence backend for conversation history.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReplayConfig configures event log retention and the replay tool.
type ReplayConfig struct {
	EventLogDir     string        `yaml:"event_log_dir"`
	CheckpointDir   string        `yaml:"checkpoint_dir"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// ToolsConfig carries per-tool allow-lists and limits.
type ToolsConfig struct {
	Allowed     []string `yaml:"allowed"`
	ShellAllow  []string `yaml:"shell_allow"`
	WorkspaceFS string   `yaml:"workspace_fs"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// Load reads path as YAML, expands ${VAR} references against the process
// environment (so secrets never need to live in the file), applies
// defaults, validates the result, and returns the resolved Config. Load
// fails fast: a malformed file or a config that fails validation is a fatal
// initialization error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.ContextWindow == 0 {
		cfg.Agent.ContextWindow = 50
	}
	if cfg.Agent.ContextCharBudget == 0 {
		cfg.Agent.ContextCharBudget = 24000
	}
	if cfg.Agent.MaxToolCallsPerMessage == 0 {
		cfg.Agent.MaxToolCallsPerMessage = 8
	}
	if cfg.Agent.MaxHistory == 0 {
		cfg.Agent.MaxHistory = 100
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Agent.RuntimeEngine == "" {
		cfg.Agent.RuntimeEngine = "native"
	}

	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 3
	}
	if cfg.Provider.RetryDelay == 0 {
		cfg.Provider.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Provider.Bedrock.Region == "" {
		cfg.Provider.Bedrock.Region = "us-east-1"
	}

	if cfg.RateLimit.Mode == "" {
		cfg.RateLimit.Mode = "lenient"
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.MaxPerWindow == 0 {
		cfg.RateLimit.MaxPerWindow = 20
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}

	if cfg.Replay.EventLogDir == "" {
		cfg.Replay.EventLogDir = "./data/events"
	}
	if cfg.Replay.CheckpointDir == "" {
		cfg.Replay.CheckpointDir = "./data/checkpoints"
	}
	if cfg.Replay.RetentionPeriod == 0 {
		cfg.Replay.RetentionPeriod = 7 * 24 * time.Hour
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "loom"
	}
}

// ValidationError reports every configuration problem found at once rather
// than stopping at the first, so a misconfigured deployment only needs one
// round trip to fix.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch cfg.Provider.Default {
	case "anthropic", "openai", "bedrock":
	case "":
		issues = append(issues, "provider.default is required")
	default:
		issues = append(issues, fmt.Sprintf("provider.default %q is not a known provider", cfg.Provider.Default))
	}

	switch cfg.Provider.Default {
	case "anthropic":
		if strings.TrimSpace(cfg.Provider.Anthropic.APIKey) == "" {
			issues = append(issues, "provider.anthropic.api_key is required when provider.default is \"anthropic\"")
		}
	case "openai":
		if strings.TrimSpace(cfg.Provider.OpenAI.APIKey) == "" {
			issues = append(issues, "provider.openai.api_key is required when provider.default is \"openai\"")
		}
	}

	if !cfg.Channels.Discord.Enabled && !cfg.Channels.Telegram.Enabled && !cfg.Channels.Slack.Enabled {
		issues = append(issues, "at least one channel must be enabled")
	}
	if cfg.Channels.Discord.Enabled && strings.TrimSpace(cfg.Channels.Discord.BotToken) == "" {
		issues = append(issues, "channels.discord.bot_token is required when channels.discord.enabled is true")
	}
	if cfg.Channels.Telegram.Enabled && strings.TrimSpace(cfg.Channels.Telegram.BotToken) == "" {
		issues = append(issues, "channels.telegram.bot_token is required when channels.telegram.enabled is true")
	}
	if cfg.Channels.Slack.Enabled {
		if strings.TrimSpace(cfg.Channels.Slack.BotToken) == "" {
			issues = append(issues, "channels.slack.bot_token is required when channels.slack.enabled is true")
		}
		if strings.TrimSpace(cfg.Channels.Slack.AppToken) == "" {
			issues = append(issues, "channels.slack.app_token is required when channels.slack.enabled is true")
		}
	}

	switch cfg.RateLimit.Mode {
	case "strict", "lenient":
	default:
		issues = append(issues, "rate_limit.mode must be \"strict\" or \"lenient\"")
	}
	if cfg.RateLimit.MaxPerWindow <= 0 {
		issues = append(issues, "rate_limit.max_per_window must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		issues = append(issues, "rate_limit.window must be positive")
	}

	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		issues = append(issues, "storage.driver must be \"sqlite\" or \"postgres\"")
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		issues = append(issues, "storage.dsn is required")
	}

	if cfg.Agent.MaxIterations <= 0 {
		issues = append(issues, "agent.max_iterations must be positive")
	}
	if cfg.Agent.ContextWindow <= 0 {
		issues = append(issues, "agent.context_window must be positive")
	}
	if cfg.Agent.ContextCharBudget <= 0 {
		issues = append(issues, "agent.context_char_budget must be positive")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
