package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level geppetto configuration.
type Config struct {
	Engine     EngineConfig              `json:"engine"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Freshdesk  FreshdeskConfig           `json:"freshdesk"`
	Connectors ConnectorConfig           `json:"connectors"`
	Audit      AuditConfig               `json:"audit"`
	API        APIConfig                 `json:"api"`
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	SystemPrompt       string `json:"system_prompt,omitempty"`
	RequesterDomain    string `json:"requester_domain,omitempty"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds,omitempty"` // default 120
	SweepSchedule      string `json:"sweep_schedule,omitempty"`       // cron expression, default "@every 15m"
	MaxIdleMinutes     int    `json:"max_idle_minutes,omitempty"`     // context TTL, default 1440
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// FreshdeskConfig holds ticketing backend settings.
type FreshdeskConfig struct {
	Domain string `json:"domain"` // e.g. "acme.freshdesk.com"
	APIKey string `json:"api_key"`
}

// ConnectorConfig holds settings for chat platform connectors.
type ConnectorConfig struct {
	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"` // xoxb-
	AppToken string `json:"app_token"` // xapp-
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	DBPath     string `json:"db_path,omitempty"`     // empty disables the sqlite sink
	BufferSize int    `json:"buffer_size,omitempty"` // in-memory ring size, default 256
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables with
// GEPPETTO_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
		Freshdesk: FreshdeskConfig{
			Domain: os.Getenv("GEPPETTO_FRESHDESK_DOMAIN"),
			APIKey: os.Getenv("GEPPETTO_FRESHDESK_API_KEY"),
		},
		Audit: AuditConfig{
			DBPath: os.Getenv("GEPPETTO_AUDIT_DB"),
		},
		API: APIConfig{
			Host: getenv("GEPPETTO_API_HOST", "0.0.0.0"),
			Port: getenvInt("GEPPETTO_API_PORT", 8080),
			Key:  os.Getenv("GEPPETTO_API_KEY"),
		},
	}

	// Default provider from env
	if apiKey := os.Getenv("GEPPETTO_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("GEPPETTO_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("GEPPETTO_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("GEPPETTO_OPENAI_BASE_URL"),
			Model:   getenv("GEPPETTO_MODEL", "gpt-4o"),
		}
	}

	// Slack connector from env
	if botToken := os.Getenv("GEPPETTO_SLACK_BOT_TOKEN"); botToken != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: botToken,
			AppToken: os.Getenv("GEPPETTO_SLACK_APP_TOKEN"),
		}
	}

	// Telegram connector from env
	if token := os.Getenv("GEPPETTO_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("GEPPETTO_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: GEPPETTO_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	cfg.Engine.SweepSchedule = getenv("GEPPETTO_SWEEP_SCHEDULE", "")
	cfg.Engine.MaxIdleMinutes = getenvInt("GEPPETTO_MAX_IDLE_MINUTES", 0)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.CallTimeoutSeconds == 0 {
		c.Engine.CallTimeoutSeconds = 120
	}
	if c.Engine.SweepSchedule == "" {
		c.Engine.SweepSchedule = "@every 15m"
	}
	if c.Engine.MaxIdleMinutes == 0 {
		c.Engine.MaxIdleMinutes = 1440
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 256
	}
}

// Validate checks for required fields, collecting every problem.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	if c.Freshdesk.Domain == "" {
		errs = append(errs, "freshdesk.domain is required")
	}
	if c.Freshdesk.APIKey == "" {
		errs = append(errs, "freshdesk.api_key is required")
	}

	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
