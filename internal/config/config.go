// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sipp-sync/internal/conflict"
	"sipp-sync/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DBURL         string `mapstructure:"DB_URL"`
	MigrationsURL string `mapstructure:"MIGRATIONS_URL"`
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`

	SIPP    SIPPConfig    `mapstructure:",squash"`
	Sync    SyncConfig    `mapstructure:",squash"`
	Logging LoggingConfig `mapstructure:",squash"`
	SMTP    SMTPConfig    `mapstructure:",squash"`
}

// SIPPConfig describes how to reach the SIPP API.
type SIPPConfig struct {
	BaseURL            string `mapstructure:"SIPP_API_BASE_URL"`
	APIKey             string `mapstructure:"SIPP_API_KEY"`
	BearerToken        string `mapstructure:"SIPP_API_BEARER_TOKEN"`
	TimeoutSeconds     int    `mapstructure:"SIPP_API_TIMEOUT"`
	RetryAttempts      int    `mapstructure:"SIPP_API_RETRY_ATTEMPTS"`
	RetryDelayMillis   int    `mapstructure:"SIPP_API_RETRY_DELAY"`
	RateLimitRequests  int    `mapstructure:"SIPP_API_RATE_LIMIT_REQUESTS"`
	RateLimitWindowSec int    `mapstructure:"SIPP_API_RATE_LIMIT_WINDOW"`
}

// Timeout is the per-request HTTP timeout.
func (c SIPPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay is the fixed pause between attempts.
func (c SIPPConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// RateLimitWindow is the window over which RateLimitRequests is counted.
func (c SIPPConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

// SyncConfig controls the sync job and its schedule.
type SyncConfig struct {
	Enabled              bool     `mapstructure:"SIPP_SYNC_ENABLED"`
	BatchSize            int      `mapstructure:"SIPP_SYNC_BATCH_SIZE"`
	ConflictResolution   string   `mapstructure:"SIPP_SYNC_CONFLICT_RESOLUTION"`
	Schedule             string   `mapstructure:"SIPP_SYNC_SCHEDULE"`
	Entities             []string `mapstructure:"SIPP_SYNC_ENTITIES"`
	Concurrency          int      `mapstructure:"SIPP_SYNC_CONCURRENCY"`
	NotificationsEnabled bool     `mapstructure:"SIPP_SYNC_NOTIFICATIONS_ENABLED"`
	NotificationEmails   []string `mapstructure:"SIPP_SYNC_NOTIFICATION_EMAILS"`

	Strategy    conflict.Strategy  `mapstructure:"-"`
	Interval    time.Duration      `mapstructure:"-"`
	EntityTypes []model.EntityType `mapstructure:"-"`
}

// LoggingConfig controls the sync component's logger.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"SIPP_LOGGING_ENABLED"`
	Channel string `mapstructure:"SIPP_LOG_CHANNEL"`
}

// SMTPConfig is used for failure notifications.
type SMTPConfig struct {
	Host     string `mapstructure:"SMTP_HOST"`
	Port     int    `mapstructure:"SMTP_PORT"`
	Username string `mapstructure:"SMTP_USERNAME"`
	Password string `mapstructure:"SMTP_PASSWORD"`
	From     string `mapstructure:"SMTP_FROM"`
}

// namedSchedules maps scheduler frequency names to intervals.
var namedSchedules = map[string]time.Duration{
	"every_minute":          time.Minute,
	"every_two_minutes":     2 * time.Minute,
	"every_five_minutes":    5 * time.Minute,
	"every_ten_minutes":     10 * time.Minute,
	"every_fifteen_minutes": 15 * time.Minute,
	"every_thirty_minutes":  30 * time.Minute,
	"hourly":                time.Hour,
	"daily":                 24 * time.Hour,
}

// ParseSchedule accepts a named frequency or a Go duration string.
func ParseSchedule(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := namedSchedules[s]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("SIPP_SYNC_SCHEDULE %q is neither a known frequency nor a positive duration", s)
	}
	return d, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_URL", "")
	v.SetDefault("MIGRATIONS_URL", "file://migrations")
	v.SetDefault("HTTP_ADDR", ":8080")

	v.SetDefault("SIPP_API_BASE_URL", "")
	v.SetDefault("SIPP_API_KEY", "")
	v.SetDefault("SIPP_API_BEARER_TOKEN", "")
	v.SetDefault("SIPP_API_TIMEOUT", 30)
	v.SetDefault("SIPP_API_RETRY_ATTEMPTS", 3)
	v.SetDefault("SIPP_API_RETRY_DELAY", 1000)
	v.SetDefault("SIPP_API_RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("SIPP_API_RATE_LIMIT_WINDOW", 60)

	v.SetDefault("SIPP_SYNC_ENABLED", true)
	v.SetDefault("SIPP_SYNC_BATCH_SIZE", 100)
	v.SetDefault("SIPP_SYNC_CONFLICT_RESOLUTION", "3")
	v.SetDefault("SIPP_SYNC_SCHEDULE", "every_five_minutes")
	v.SetDefault("SIPP_SYNC_ENTITIES", "")
	v.SetDefault("SIPP_SYNC_CONCURRENCY", 2)
	v.SetDefault("SIPP_SYNC_NOTIFICATIONS_ENABLED", false)
	v.SetDefault("SIPP_SYNC_NOTIFICATION_EMAILS", "")

	v.SetDefault("SIPP_LOGGING_ENABLED", true)
	v.SetDefault("SIPP_LOG_CHANNEL", "sipp")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(configPath)
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Comma separated lists arrive as a single element from the environment.
	cfg.Sync.Entities = splitList(cfg.Sync.Entities)
	cfg.Sync.NotificationEmails = splitList(cfg.Sync.NotificationEmails)

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve parses derived fields and validates the result.
func (c *Config) resolve() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.SIPP.BaseURL == "" {
		return errors.New("SIPP_API_BASE_URL is a required configuration field")
	}
	if c.SIPP.TimeoutSeconds <= 0 {
		return errors.New("SIPP_API_TIMEOUT must be a positive number of seconds")
	}
	if c.SIPP.RetryAttempts < 1 {
		return errors.New("SIPP_API_RETRY_ATTEMPTS must be at least 1")
	}
	if c.SIPP.RetryDelayMillis < 0 {
		return errors.New("SIPP_API_RETRY_DELAY must not be negative")
	}
	if c.SIPP.RateLimitRequests <= 0 || c.SIPP.RateLimitWindowSec <= 0 {
		return errors.New("SIPP_API_RATE_LIMIT_REQUESTS and SIPP_API_RATE_LIMIT_WINDOW must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return errors.New("SIPP_SYNC_BATCH_SIZE must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 1
	}

	strategy, err := conflict.ParseStrategy(c.Sync.ConflictResolution)
	if err != nil {
		return fmt.Errorf("SIPP_SYNC_CONFLICT_RESOLUTION: %w", err)
	}
	c.Sync.Strategy = strategy

	interval, err := ParseSchedule(c.Sync.Schedule)
	if err != nil {
		return err
	}
	c.Sync.Interval = interval

	c.Sync.EntityTypes = nil
	if len(c.Sync.Entities) == 0 {
		c.Sync.EntityTypes = append(c.Sync.EntityTypes, model.AllEntityTypes...)
	}
	for _, name := range c.Sync.Entities {
		et, err := model.ParseEntityType(name)
		if err != nil {
			return fmt.Errorf("SIPP_SYNC_ENTITIES: %w", err)
		}
		c.Sync.EntityTypes = append(c.Sync.EntityTypes, et)
	}

	if c.Sync.NotificationsEnabled {
		if len(c.Sync.NotificationEmails) == 0 {
			return errors.New("SIPP_SYNC_NOTIFICATION_EMAILS must list at least one address when notifications are enabled")
		}
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			return errors.New("SMTP_HOST and SMTP_FROM are required when notifications are enabled")
		}
	}

	if c.Logging.Channel == "" {
		c.Logging.Channel = "sipp"
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
