package config

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VRELAY_ENV", "production")
	t.Setenv("VRELAY_DB_PASSWORD", "test-password")
	t.Setenv("MAIL_DOMAIN", "Relay.Example.com")
}

func validConfig() *Config {
	return &Config{
		DBPassword:             "password",
		MailDomain:             "relay.example.com",
		ScheduleSweepInterval:  time.Minute,
		RetentionSweepInterval: time.Hour,
		TrashRetention:         30 * 24 * time.Hour,
		SendRatePerSecond:      5,
	}
}

func TestNewConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VRELAY_DB_HOST", "db.internal")
	t.Setenv("VRELAY_DB_USER", "test-user")
	t.Setenv("PORT", "3000")
	t.Setenv("MAILGUN_API_KEY", "key-123")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.com")
	t.Setenv("AUTO_LABEL_ENABLED", "true")
	t.Setenv("SCHEDULE_SWEEP_INTERVAL", "30s")
	t.Setenv("TRASH_RETENTION_DAYS", "7")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("expected Environment 'production', got '%s'", config.Environment)
	}
	if config.DBHost != "db.internal" {
		t.Errorf("expected DBHost 'db.internal', got '%s'", config.DBHost)
	}
	if config.DBUsername != "test-user" {
		t.Errorf("expected DBUsername 'test-user', got '%s'", config.DBUsername)
	}
	if config.Port != "3000" {
		t.Errorf("expected Port '3000', got '%s'", config.Port)
	}
	if config.MailDomain != "relay.example.com" {
		t.Errorf("expected MailDomain to be lowercased, got '%s'", config.MailDomain)
	}
	if !config.MailgunConfigured() {
		t.Error("expected Mailgun to be configured")
	}
	if !config.AutoLabelEnabled {
		t.Error("expected AutoLabelEnabled to be true")
	}
	if config.ScheduleSweepInterval != 30*time.Second {
		t.Errorf("expected ScheduleSweepInterval 30s, got %v", config.ScheduleSweepInterval)
	}
	if config.TrashRetention != 7*24*time.Hour {
		t.Errorf("expected TrashRetention 7 days, got %v", config.TrashRetention)
	}
}

func TestNewConfigWithDefaults(t *testing.T) {
	setRequiredEnv(t)

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.DBHost != "localhost" {
		t.Errorf("expected default DBHost 'localhost', got '%s'", config.DBHost)
	}
	if config.DBUsername != "vrelay" {
		t.Errorf("expected default DBUsername 'vrelay', got '%s'", config.DBUsername)
	}
	if config.Port != "8080" {
		t.Errorf("expected default Port '8080', got '%s'", config.Port)
	}
	if config.AutoLabelEnabled {
		t.Error("expected auto-labeling to be off by default")
	}
	if !config.InternalFallbackEnabled {
		t.Error("expected internal fallback to be on by default for direct sends")
	}
	if config.InternalFallbackReplies {
		t.Error("expected internal fallback to be off by default for replies")
	}
	if config.ScheduleSweepInterval != time.Minute {
		t.Errorf("expected default ScheduleSweepInterval 1m, got %v", config.ScheduleSweepInterval)
	}
	if config.RetentionSweepInterval != time.Hour {
		t.Errorf("expected default RetentionSweepInterval 1h, got %v", config.RetentionSweepInterval)
	}
	if config.TrashRetention != 30*24*time.Hour {
		t.Errorf("expected default TrashRetention 30 days, got %v", config.TrashRetention)
	}
	if config.MailgunConfigured() {
		t.Error("expected Mailgun to be unconfigured by default")
	}
	if config.StorageConfigured() {
		t.Error("expected storage to be unconfigured by default")
	}
}

func TestNewConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "invalid bool", key: "AUTO_LABEL_ENABLED", value: "sometimes"},
		{name: "invalid duration", key: "SCHEDULE_SWEEP_INTERVAL", value: "soon"},
		{name: "invalid int", key: "TRASH_RETENTION_DAYS", value: "thirty"},
		{name: "invalid float", key: "SEND_RATE_PER_SECOND", value: "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := NewConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("expected error to mention %s, got %v", tt.key, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:   "missing DB password",
			modify: func(c *Config) { c.DBPassword = "" },
			errMsg: "VRELAY_DB_PASSWORD is required",
		},
		{
			name:   "missing mail domain",
			modify: func(c *Config) { c.MailDomain = "" },
			errMsg: "MAIL_DOMAIN is required",
		},
		{
			name:   "mailgun key without domain",
			modify: func(c *Config) { c.MailgunAPIKey = "key" },
			errMsg: "must be set together",
		},
		{
			name:   "storage endpoint without bucket",
			modify: func(c *Config) { c.StorageEndpoint = "https://s3.example.com" },
			errMsg: "STORAGE_BUCKET",
		},
		{
			name:   "zero sweep interval",
			modify: func(c *Config) { c.ScheduleSweepInterval = 0 },
			errMsg: "sweep intervals must be positive",
		},
		{
			name:   "negative retention",
			modify: func(c *Config) { c.TrashRetention = -time.Hour },
			errMsg: "TRASH_RETENTION_DAYS must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	config := &Config{
		DBUsername: "user",
		DBPassword: "p@ss",
		DBHost:     "localhost",
		DBPort:     "5432",
		DBName:     "vrelay",
		DBSSLMode:  "disable",
	}

	got := config.GetDatabaseURL()
	if !strings.HasPrefix(got, "postgres://") {
		t.Fatalf("expected postgres URL, got %s", got)
	}
	if _, err := url.Parse(strings.Replace(got, "p@ss", "pass", 1)); err != nil {
		t.Errorf("expected parseable URL, got %v", err)
	}
	if !strings.HasSuffix(got, "/vrelay?sslmode=disable") {
		t.Errorf("unexpected database URL %s", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	if got := getEnvOrDefault("TEST_KEY", "default"); got != "test-value" {
		t.Errorf("expected 'test-value', got '%s'", got)
	}
	if got := getEnvOrDefault("NONEXISTENT_KEY", "default"); got != "default" {
		t.Errorf("expected 'default', got '%s'", got)
	}
}
