package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brokerdesk/crm/libs/config"
	"github.com/brokerdesk/crm/libs/kafkax"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/notify"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
)

// serviceConfig is everything the process reads from the environment.
type serviceConfig struct {
	Service  string
	LogLevel string
	Port     string
	GRPCPort string

	DatabaseURL string
	RedisAddr   string
	RateLimit   int
	Brokers     []string

	CalendarProvider string
	Google           calendar.GoogleConfig

	TokenTTL   time.Duration
	CronSecret string
	StaffToken string
	CORS       []string

	Reminders reminders.Config
	SMTP      notify.SMTPConfig
	SMSURL    string
	SMSToken  string
}

func loadConfig() (serviceConfig, error) {
	var (
		cfg serviceConfig
		err error
	)
	cfg.Service = config.String("SERVICE_NAME", "scheduling-service")
	cfg.LogLevel = config.String("LOG_LEVEL", "info")
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return cfg, err
	}
	cfg.Brokers = kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))

	cfg.CalendarProvider = strings.ToLower(config.String("CALENDAR_PROVIDER", "google"))
	if cfg.CalendarProvider != "google" && cfg.CalendarProvider != "memory" {
		return cfg, fmt.Errorf("CALENDAR_PROVIDER must be google or memory, got %q", cfg.CalendarProvider)
	}
	cfg.Google = calendar.GoogleConfig{
		CredentialsFile:   config.String("GOOGLE_CREDENTIALS_FILE", ""),
		DefaultCalendarID: config.String("GOOGLE_CALENDAR_ID", "primary"),
		SendUpdates:       config.String("GOOGLE_SEND_UPDATES", "all"),
	}
	if cfg.Google.Timeout, err = config.Duration("GOOGLE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}

	ttlHours, err := config.Int("TOKEN_TTL_HOURS", 168)
	if err != nil {
		return cfg, err
	}
	cfg.TokenTTL = time.Duration(ttlHours) * time.Hour
	cfg.CronSecret = config.String("CRON_SECRET", "")
	cfg.StaffToken = config.String("STAFF_API_TOKEN", "")
	cfg.CORS = config.List("CORS_ALLOWED_ORIGINS", nil)

	offsets, err := reminders.ParseOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"))
	if err != nil {
		return cfg, err
	}
	maxAttempts, err := config.Int("REMINDER_MAX_ATTEMPTS", 5)
	if err != nil {
		return cfg, err
	}
	backoffSeconds, err := config.Int("REMINDER_RETRY_BACKOFF_SECONDS", 300)
	if err != nil {
		return cfg, err
	}
	batch, err := config.Int("REMINDER_BATCH_SIZE", 50)
	if err != nil {
		return cfg, err
	}
	smsEnabled, err := config.Bool("SMS_ENABLED", false)
	if err != nil {
		return cfg, err
	}
	cfg.Reminders = reminders.Config{
		Offsets:       offsets,
		AdminEmail:    config.String("ADMIN_EMAIL", ""),
		PublicBaseURL: config.String("PUBLIC_BASE_URL", "http://localhost:8080"),
		SMSEnabled:    smsEnabled,
		MaxAttempts:   maxAttempts,
		RetryBackoff:  time.Duration(backoffSeconds) * time.Second,
		BatchSize:     batch,
	}
	cfg.SMTP = notify.SMTPConfig{
		Host:     config.String("SMTP_HOST", ""),
		Port:     config.String("SMTP_PORT", "587"),
		From:     config.String("SMTP_FROM", ""),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	}
	cfg.SMSURL = config.String("SMS_WEBHOOK_URL", "")
	cfg.SMSToken = config.String("SMS_WEBHOOK_TOKEN", "")
	return cfg, nil
}
