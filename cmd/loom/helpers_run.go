package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomrun/loom/internal/channel"
	"github.com/loomrun/loom/internal/channel/discord"
	"github.com/loomrun/loom/internal/channel/slack"
	"github.com/loomrun/loom/internal/channel/telegram"
	"github.com/loomrun/loom/internal/config"
	"github.com/loomrun/loom/internal/provider"
	"github.com/loomrun/loom/internal/storage"
	"github.com/loomrun/loom/internal/tools"
)

// buildStorage constructs the configured persistence backend. An empty or
// "memory" driver selects the in-memory backend; a config returned by
// config.Load never carries one, because Load defaults the driver to
// "sqlite" and its validation accepts only "sqlite" or "postgres" with a
// non-empty DSN.
func buildStorage(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite":
		return storage.NewSQLBackend("sqlite3", cfg.DSN, storage.DefaultSQLConfig())
	case "postgres":
		return storage.NewSQLBackend("postgres", cfg.DSN, storage.DefaultSQLConfig())
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// buildProvider constructs the single configured completion provider.
// Exactly one provider is active per process; there is no per-message
// fallback between providers.
func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Default {
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:     cfg.Anthropic.APIKey,
			BaseURL:    cfg.Anthropic.BaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case "openai":
		return provider.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.MaxRetries, cfg.RetryDelay)
	case "bedrock":
		return provider.NewBedrockProvider(context.Background(), provider.BedrockConfig{
			Region:       cfg.Bedrock.Region,
			DefaultModel: cfg.Bedrock.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q, expected anthropic, openai, or bedrock", cfg.Default)
	}
}

// registerBuiltinTools registers the workspace-scoped tool set, honoring an
// optional allow-list that narrows which tools are exposed to the agent
// loop at all (independent of the policy engine's read/write/elevated
// classification of the ones that are registered).
func registerBuiltinTools(reg *tools.Registry, cfg config.ToolsConfig, workspace string) error {
	allowed := make(map[string]bool, len(cfg.Allowed))
	for _, name := range cfg.Allowed {
		allowed[name] = true
	}
	permits := func(name string) bool {
		return len(allowed) == 0 || allowed[name]
	}

	if permits("read_file") {
		if err := reg.Register(&tools.ReadFileTool{Workspace: workspace}); err != nil {
			return err
		}
	}
	if permits("list_dir") {
		if err := reg.Register(&tools.ListDirTool{Workspace: workspace}); err != nil {
			return err
		}
	}
	if permits("shell") {
		shellTool := tools.NewShellTool(workspace)
		for _, cmd := range cfg.ShellAllow {
			shellTool.AllowedCommands[cmd] = true
		}
		if err := reg.Register(shellTool); err != nil {
			return err
		}
	}
	return nil
}

// registerChannels constructs and registers one adapter per enabled
// channel in cfg. A channel with Enabled set but a blank credential is a
// fatal configuration error rather than a silently skipped adapter.
func registerChannels(reg *channel.Registry, cfg config.ChannelsConfig, publisher channel.Publisher, logger *slog.Logger) error {
	if cfg.Discord.Enabled {
		if cfg.Discord.BotToken == "" {
			return fmt.Errorf("discord channel enabled but bot_token is empty")
		}
		reg.Register(discord.New(cfg.Discord.BotToken, publisher, logger))
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram channel enabled but bot_token is empty")
		}
		reg.Register(telegram.New(cfg.Telegram.BotToken, publisher, logger))
	}
	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
			return fmt.Errorf("slack channel enabled but bot_token or app_token is empty")
		}
		reg.Register(slack.New(cfg.Slack.BotToken, cfg.Slack.AppToken, publisher, logger))
	}
	return nil
}
