package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	DBHost      string
	DBPort      string
	DBUsername  string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	Port        string
	Timezone    string

	LogLevel string
	LokiURL  string

	// MailDomain is the domain every provisioned mailbox address ends with.
	MailDomain string

	MailgunAPIKey            string
	MailgunDomain            string
	MailgunAPIURL            string
	MailgunWebhookSigningKey string
	// MailgunWebhookURL is where provisioned routes forward inbound mail.
	MailgunWebhookURL string

	SMTPRelayHost     string
	SMTPRelayPort     int
	SMTPRelayUsername string
	SMTPRelayPassword string

	StorageEndpoint        string
	StorageBucket          string
	StorageRegion          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StoragePublicBaseURL   string

	AutoLabelEnabled        bool
	InternalFallbackEnabled bool
	InternalFallbackReplies bool

	ScheduleSweepInterval  time.Duration
	RetentionSweepInterval time.Duration
	TrashRetention         time.Duration
	SendRatePerSecond      float64
}

func NewConfig() (*Config, error) {
	env := os.Getenv("VRELAY_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment: env,
		DBHost:      getEnvOrDefault("VRELAY_DB_HOST", "localhost"),
		DBPort:      getEnvOrDefault("VRELAY_DB_PORT", "5432"),
		DBUsername:  getEnvOrDefault("VRELAY_DB_USER", "vrelay"),
		DBPassword:  os.Getenv("VRELAY_DB_PASSWORD"),
		DBName:      getEnvOrDefault("VRELAY_DB_NAME", "vrelay"),
		DBSSLMode:   getEnvOrDefault("VRELAY_DB_SSLMODE", "disable"),
		Port:        getEnvOrDefault("PORT", "8080"),
		Timezone:    getEnvOrDefault("TZ", "UTC"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LokiURL:  os.Getenv("LOKI_URL"),

		MailDomain: strings.ToLower(strings.TrimSpace(os.Getenv("MAIL_DOMAIN"))),

		MailgunAPIKey:            os.Getenv("MAILGUN_API_KEY"),
		MailgunDomain:            os.Getenv("MAILGUN_DOMAIN"),
		MailgunAPIURL:            getEnvOrDefault("MAILGUN_API_URL", "https://api.mailgun.net"),
		MailgunWebhookSigningKey: os.Getenv("MAILGUN_WEBHOOK_SIGNING_KEY"),
		MailgunWebhookURL:        os.Getenv("MAILGUN_WEBHOOK_URL"),

		SMTPRelayHost:     os.Getenv("SMTP_RELAY_HOST"),
		SMTPRelayUsername: os.Getenv("SMTP_RELAY_USERNAME"),
		SMTPRelayPassword: os.Getenv("SMTP_RELAY_PASSWORD"),

		StorageEndpoint:        os.Getenv("STORAGE_ENDPOINT"),
		StorageBucket:          os.Getenv("STORAGE_BUCKET"),
		StorageRegion:          getEnvOrDefault("STORAGE_REGION", "us-east-1"),
		StorageAccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		StorageSecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
		StoragePublicBaseURL:   os.Getenv("STORAGE_PUBLIC_BASE_URL"),
	}

	var err error
	if config.SMTPRelayPort, err = getIntEnv("SMTP_RELAY_PORT", 587); err != nil {
		return nil, err
	}
	if config.AutoLabelEnabled, err = getBoolEnv("AUTO_LABEL_ENABLED", false); err != nil {
		return nil, err
	}
	if config.InternalFallbackEnabled, err = getBoolEnv("INTERNAL_FALLBACK_ENABLED", true); err != nil {
		return nil, err
	}
	if config.InternalFallbackReplies, err = getBoolEnv("INTERNAL_FALLBACK_REPLIES", false); err != nil {
		return nil, err
	}
	if config.ScheduleSweepInterval, err = getDurationEnv("SCHEDULE_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if config.RetentionSweepInterval, err = getDurationEnv("RETENTION_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	retentionDays, err := getIntEnv("TRASH_RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	config.TrashRetention = time.Duration(retentionDays) * 24 * time.Hour
	if config.SendRatePerSecond, err = getFloatEnv("SEND_RATE_PER_SECOND", 5); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("VRELAY_DB_PASSWORD is required")
	}

	if c.MailDomain == "" {
		return fmt.Errorf("MAIL_DOMAIN is required")
	}

	if (c.MailgunAPIKey == "") != (c.MailgunDomain == "") {
		return fmt.Errorf("MAILGUN_API_KEY and MAILGUN_DOMAIN must be set together")
	}

	if c.StorageEndpoint != "" && (c.StorageBucket == "" || c.StorageAccessKeyID == "" || c.StorageSecretAccessKey == "") {
		return fmt.Errorf("STORAGE_BUCKET, STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY are required when STORAGE_ENDPOINT is set")
	}

	if c.ScheduleSweepInterval <= 0 || c.RetentionSweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}

	if c.TrashRetention <= 0 {
		return fmt.Errorf("TRASH_RETENTION_DAYS must be positive")
	}

	if c.SendRatePerSecond <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SECOND must be positive")
	}

	return nil
}

// MailgunConfigured reports whether the Mailgun provider has credentials.
func (c *Config) MailgunConfigured() bool {
	return c.MailgunAPIKey != "" && c.MailgunDomain != ""
}

// StorageConfigured reports whether attachment binaries can be stored.
func (c *Config) StorageConfigured() bool {
	return c.StorageEndpoint != ""
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
