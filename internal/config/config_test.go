package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfigYAML() string {
	return `
provider:
  default: anthropic
  anthropic:
    api_key: sk-ant-test
channels:
  discord:
    enabled: true
    bot_token: discord-test-token
storage:
  driver: sqlite
  dsn: ./data/loom.db
`
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Fatalf("expected default max_iterations of 10, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.RateLimit.Mode != "lenient" {
		t.Fatalf("expected default rate_limit.mode of lenient, got %q", cfg.RateLimit.Mode)
	}
	if cfg.Provider.Bedrock.Region != "us-east-1" {
		t.Fatalf("expected default bedrock region, got %q", cfg.Provider.Bedrock.Region)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validConfigYAML()+"\nextra_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidatesProviderChoice(t *testing.T) {
	path := writeConfig(t, `
provider:
  default: made_up_provider
channels:
  discord:
    enabled: true
    bot_token: x
storage:
  dsn: ./data/loom.db
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider.default") {
		t.Fatalf("expected provider.default error, got %v", err)
	}
}

func TestLoadRequiresAPIKeyForChosenProvider(t *testing.T) {
	path := writeConfig(t, `
provider:
  default: anthropic
channels:
  discord:
    enabled: true
    bot_token: x
storage:
  dsn: ./data/loom.db
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "anthropic.api_key") {
		t.Fatalf("expected anthropic.api_key error, got %v", err)
	}
}

func TestLoadRequiresAtLeastOneChannel(t *testing.T) {
	path := writeConfig(t, `
provider:
  default: anthropic
  anthropic:
    api_key: sk-ant-test
storage:
  dsn: ./data/loom.db
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "at least one channel") {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveRateLimitQuota(t *testing.T) {
	path := writeConfig(t, validConfigYAML()+`
rate_limit:
  max_per_window: -1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_per_window") {
		t.Fatalf("expected max_per_window error, got %v", err)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("LOOM_TEST_API_KEY", "sk-ant-from-env")
	path := writeConfig(t, `
provider:
  default: anthropic
  anthropic:
    api_key: ${LOOM_TEST_API_KEY}
channels:
  discord:
    enabled: true
    bot_token: x
storage:
  dsn: ./data/loom.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Anthropic.APIKey != "sk-ant-from-env" {
		t.Fatalf("expected api_key expanded from environment, got %q", cfg.Provider.Anthropic.APIKey)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
