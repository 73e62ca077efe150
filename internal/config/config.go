package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config aggregates every runtime setting. Values come from an optional
	// YAML file; environment variables override file values so containerized
	// deployments need no file at all.
	Config struct {
		APIKey      string  `yaml:"api_key"`
		Host        string  `yaml:"host"`
		Port        int     `yaml:"port"`
		Debug       bool    `yaml:"debug"`
		MaxRetries  int     `yaml:"max_retries"`
		RetryDelay  float64 `yaml:"retry_delay"`
		TemplateDir string  `yaml:"template_dir"`
		DBPath      string  `yaml:"db_path"`
		MetricsAddr string  `yaml:"metrics_addr"`

		RateLimitEnabled *bool   `yaml:"rate_limit_enabled"`
		RateLimitTimeout float64 `yaml:"rate_limit_timeout"`

		SchedulerPoll float64 `yaml:"scheduler_poll"`

		Logging LoggingConfig `yaml:"logging"`

		Telegram TelegramConfig `yaml:"telegram"`
		WhatsApp WhatsAppConfig `yaml:"whatsapp"`
		Discord  DiscordConfig  `yaml:"discord"`
		Slack    SlackConfig    `yaml:"slack"`
		Email    EmailConfig    `yaml:"email"`
		Webhook  WebhookConfig  `yaml:"webhook"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	TelegramConfig struct {
		Token          string `yaml:"token"`
		ParseMode      string `yaml:"parse_mode"`
		DisablePreview bool   `yaml:"disable_preview"`
	}

	WhatsAppConfig struct {
		Token      string `yaml:"token"`
		PhoneID    string `yaml:"phone_id"`
		APIVersion string `yaml:"api_version"`
	}

	DiscordConfig struct {
		WebhookURL string `yaml:"webhook_url"`
	}

	SlackConfig struct {
		WebhookURL string `yaml:"webhook_url"`
	}

	EmailConfig struct {
		SMTPHost string `yaml:"smtp_host"`
		SMTPPort int    `yaml:"smtp_port"`
		SMTPUser string `yaml:"smtp_user"`
		SMTPPass string `yaml:"smtp_pass"`
		SMTPFrom string `yaml:"smtp_from"`
		UseTLS   bool   `yaml:"use_tls"`
	}

	WebhookConfig struct {
		Secret  string `yaml:"secret"`
		Timeout int    `yaml:"timeout"` // seconds, capped at 30
	}
)

// Default returns the baseline config before file and env merging.
func Default() *Config {
	return &Config{
		APIKey:        "change-me",
		Host:          "0.0.0.0",
		Port:          8900,
		MaxRetries:    3,
		RetryDelay:    1.0,
		TemplateDir:   "templates",
		DBPath:        "omni_messages.db",
		SchedulerPoll: 5.0,
		Telegram: TelegramConfig{
			ParseMode:      "Markdown",
			DisablePreview: true,
		},
		WhatsApp: WhatsAppConfig{APIVersion: "v19.0"},
		Email:    EmailConfig{SMTPPort: 587, UseTLS: true},
		Webhook:  WebhookConfig{Timeout: 30},
		Logging:  LoggingConfig{Level: "info", Output: "stdout"},
	}
}

// Load reads an optional YAML file, then applies environment overrides.
// A missing file is not an error; the env-only config is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from environment variables alone.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	envString(&c.APIKey, "OMNI_API_KEY")
	envString(&c.Host, "OMNI_HOST")
	envInt(&c.Port, "OMNI_PORT")
	envBool(&c.Debug, "OMNI_DEBUG")
	envInt(&c.MaxRetries, "OMNI_MAX_RETRIES")
	envFloat(&c.RetryDelay, "OMNI_RETRY_DELAY")
	envString(&c.TemplateDir, "OMNI_TEMPLATE_DIR")
	envString(&c.DBPath, "OMNI_DB_PATH")
	envString(&c.MetricsAddr, "OMNI_METRICS_ADDR")

	envString(&c.Telegram.Token, "TELEGRAM_TOKEN")
	envString(&c.Telegram.ParseMode, "TELEGRAM_PARSE_MODE")
	envBool(&c.Telegram.DisablePreview, "TELEGRAM_DISABLE_PREVIEW")

	envString(&c.WhatsApp.Token, "WHATSAPP_TOKEN")
	envString(&c.WhatsApp.PhoneID, "WHATSAPP_PHONE_ID")
	envString(&c.WhatsApp.APIVersion, "WHATSAPP_API_VERSION")

	envString(&c.Discord.WebhookURL, "DISCORD_WEBHOOK")
	envString(&c.Slack.WebhookURL, "SLACK_WEBHOOK")

	envString(&c.Email.SMTPHost, "SMTP_HOST")
	envInt(&c.Email.SMTPPort, "SMTP_PORT")
	envString(&c.Email.SMTPUser, "SMTP_USER")
	envString(&c.Email.SMTPPass, "SMTP_PASS")
	envString(&c.Email.SMTPFrom, "SMTP_FROM")
	envBool(&c.Email.UseTLS, "SMTP_USE_TLS")

	envString(&c.Webhook.Secret, "WEBHOOK_SECRET")
	envInt(&c.Webhook.Timeout, "WEBHOOK_TIMEOUT")
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}
	if c.Webhook.Timeout <= 0 || c.Webhook.Timeout > 30 {
		c.Webhook.Timeout = 30
	}
	if c.SchedulerPoll <= 0 {
		c.SchedulerPoll = 5.0
	}
	return nil
}

// RateLimitOn reports whether the router gates dispatch on the rate limiter.
// Defaults to on; set rate_limit_enabled: false to bypass admission.
func (c *Config) RateLimitOn() bool {
	if c.RateLimitEnabled == nil {
		return true
	}
	return *c.RateLimitEnabled
}

// Bind returns the host:port the REST server listens on.
func (c *Config) Bind() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerPollInterval returns the scheduler tick as a duration.
func (c *Config) SchedulerPollInterval() time.Duration {
	return time.Duration(c.SchedulerPoll * float64(time.Second))
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}
