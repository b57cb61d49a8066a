package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJSON = `{
  "engine": {
    "requester_domain": "acme.example.com",
    "sweep_schedule": "@every 30m",
    "max_idle_minutes": 60
  },
  "providers": {
    "default": {
      "api_key": "sk-test-key",
      "model": "gpt-4o"
    },
    "fallback": {
      "type": "anthropic",
      "api_key": "sk-ant-key",
      "model": "claude-sonnet-4-20250514"
    }
  },
  "freshdesk": {
    "domain": "acme.freshdesk.com",
    "api_key": "fd-key"
  },
  "connectors": {
    "slack": {
      "bot_token": "xoxb-1",
      "app_token": "xapp-1"
    },
    "telegram": {
      "token": "123456:ABC",
      "allow_from": [100, 200]
    }
  },
  "audit": {
    "db_path": "/tmp/geppetto-audit.db"
  },
  "api": {
    "host": "0.0.0.0",
    "port": 8080,
    "api_key": "dashboard-key"
  }
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(validJSON), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.RequesterDomain != "acme.example.com" {
		t.Errorf("engine.requester_domain = %q", cfg.Engine.RequesterDomain)
	}
	if cfg.Engine.SweepSchedule != "@every 30m" {
		t.Errorf("engine.sweep_schedule = %q", cfg.Engine.SweepSchedule)
	}
	if cfg.Engine.MaxIdleMinutes != 60 {
		t.Errorf("engine.max_idle_minutes = %d", cfg.Engine.MaxIdleMinutes)
	}
	if cfg.Engine.CallTimeoutSeconds != 120 {
		t.Errorf("expected default call timeout, got %d", cfg.Engine.CallTimeoutSeconds)
	}
	if cfg.Providers["default"].APIKey != "sk-test-key" {
		t.Errorf("provider api_key = %q", cfg.Providers["default"].APIKey)
	}
	if cfg.Providers["fallback"].Type != "anthropic" {
		t.Errorf("fallback type = %q", cfg.Providers["fallback"].Type)
	}
	if cfg.Freshdesk.Domain != "acme.freshdesk.com" {
		t.Errorf("freshdesk.domain = %q", cfg.Freshdesk.Domain)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.BotToken != "xoxb-1" {
		t.Errorf("slack connector = %+v", cfg.Connectors.Slack)
	}
	if cfg.Connectors.Telegram == nil || len(cfg.Connectors.Telegram.AllowFrom) != 2 {
		t.Errorf("telegram connector = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Audit.DBPath != "/tmp/geppetto-audit.db" {
		t.Errorf("audit.db_path = %q", cfg.Audit.DBPath)
	}
	if cfg.Audit.BufferSize != 256 {
		t.Errorf("expected default buffer size, got %d", cfg.Audit.BufferSize)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
}

func TestApplyDefaults_NegativeBufferSize(t *testing.T) {
	cfg := &Config{Audit: AuditConfig{BufferSize: -1}}
	cfg.applyDefaults()
	if cfg.Audit.BufferSize != 256 {
		t.Errorf("expected default buffer size for negative value, got %d", cfg.Audit.BufferSize)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("not json"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func validConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{"default": {APIKey: "k", Model: "m"}},
		Freshdesk: FreshdeskConfig{Domain: "acme.freshdesk.com", APIKey: "fd"},
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidate_MissingProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = map[string]ProviderConfig{}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one provider") {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestValidate_MissingProviderAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = map[string]ProviderConfig{"default": {Model: "m"}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected api_key error, got %v", err)
	}
}

func TestValidate_MissingFreshdesk(t *testing.T) {
	cfg := validConfig()
	cfg.Freshdesk = FreshdeskConfig{}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "freshdesk.domain") {
		t.Errorf("expected freshdesk error, got %v", err)
	}
	if !strings.Contains(err.Error(), "freshdesk.api_key") {
		t.Errorf("expected every problem collected, got %v", err)
	}
}

func TestValidate_SlackTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Connectors.Slack = &SlackConfig{BotToken: "xoxb-1"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "slack.app_token") {
		t.Errorf("expected slack app_token error, got %v", err)
	}
}

func TestValidate_TelegramNoToken(t *testing.T) {
	cfg := validConfig()
	cfg.Connectors.Telegram = &TelegramConfig{}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Errorf("expected telegram token error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEPPETTO_OPENAI_API_KEY", "sk-env")
	t.Setenv("GEPPETTO_MODEL", "gpt-4o-mini")
	t.Setenv("GEPPETTO_FRESHDESK_DOMAIN", "acme.freshdesk.com")
	t.Setenv("GEPPETTO_FRESHDESK_API_KEY", "fd-env")
	t.Setenv("GEPPETTO_API_PORT", "9090")
	t.Setenv("GEPPETTO_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("GEPPETTO_SLACK_APP_TOKEN", "xapp-env")
	t.Setenv("GEPPETTO_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("GEPPETTO_TELEGRAM_ALLOW_FROM", "100,200,300")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Providers["default"].APIKey != "sk-env" {
		t.Errorf("provider api_key = %q", cfg.Providers["default"].APIKey)
	}
	if cfg.Providers["default"].Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Providers["default"].Model)
	}
	if cfg.Freshdesk.APIKey != "fd-env" {
		t.Errorf("freshdesk api_key = %q", cfg.Freshdesk.APIKey)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.AppToken != "xapp-env" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
	if cfg.Connectors.Telegram == nil || len(cfg.Connectors.Telegram.AllowFrom) != 3 {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Engine.SweepSchedule != "@every 15m" {
		t.Errorf("expected default sweep schedule, got %q", cfg.Engine.SweepSchedule)
	}
}

func TestLoadFromEnv_AnthropicPreferred(t *testing.T) {
	t.Setenv("GEPPETTO_ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEPPETTO_OPENAI_API_KEY", "sk-oai")
	t.Setenv("GEPPETTO_FRESHDESK_DOMAIN", "acme.freshdesk.com")
	t.Setenv("GEPPETTO_FRESHDESK_API_KEY", "fd")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Providers["default"].Type != "anthropic" {
		t.Errorf("expected anthropic provider, got %+v", cfg.Providers["default"])
	}
}
