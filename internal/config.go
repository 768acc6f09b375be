package internal

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/DukeRupert/reelstat/internal/store"
)

type Config struct {
	Env      string `env:"ENV" env-default:"development"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	HTTPAddr string `env:"HTTP_ADDR" env-default:":3001"`

	// Public base URL of this service; payment callback URLs default to it.
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:3001"`

	// Telegram
	TelegramBotToken    string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL      string        `env:"TELEGRAM_API_URL" env-default:"https://api.telegram.org"`
	TelegramPollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT" env-default:"30s"`
	UserRateLimit       int           `env:"USER_RATE_LIMIT" env-default:"10"` // analysis requests per minute
	SupportURL          string        `env:"SUPPORT_URL"`
	BotURL              string        `env:"BOT_URL"`

	// Data provider
	ProviderBaseURL        string        `env:"PROVIDER_BASE_URL"`
	ProviderAPIKey         string        `env:"PROVIDER_API_KEY"`
	ProviderKeyHeader      string        `env:"PROVIDER_KEY_HEADER" env-default:"x-access-key"`
	ProviderOverloadStatus int           `env:"PROVIDER_OVERLOAD_STATUS" env-default:"429"`
	ProviderMaxAttempts    int           `env:"PROVIDER_MAX_ATTEMPTS" env-default:"3"`
	ProviderInitialDelay   time.Duration `env:"PROVIDER_INITIAL_DELAY" env-default:"1s"`
	ProviderClipsAmount    int           `env:"PROVIDER_CLIPS_AMOUNT" env-default:"30"`
	BreakerThreshold       int           `env:"BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetWindow     time.Duration `env:"BREAKER_RESET_WINDOW" env-default:"60s"`

	// Payment gateway. Payments are disabled while the terminal key is empty.
	TBankAPIURL            string `env:"TBANK_API_URL" env-default:"https://securepay.tinkoff.ru/v2/"`
	TBankTerminalKey       string `env:"TBANK_TERMINAL_KEY"`
	TBankTerminalPassword  string `env:"TBANK_TERMINAL_PASSWORD"`
	PaymentNotificationURL string `env:"PAYMENT_NOTIFICATION_URL"`
	PaymentSuccessURL      string `env:"PAYMENT_SUCCESS_URL"`
	PaymentFailURL         string `env:"PAYMENT_FAIL_URL"`

	// Persistence
	StoreDriver string `env:"STORE_DRIVER" env-default:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Blob storage, used by the object store driver and the audit log
	StorageProvider   string `env:"STORAGE_PROVIDER" env-default:"local"`
	StorageLocalPath  string `env:"STORAGE_LOCAL_PATH" env-default:"./data"`
	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`

	// Background tasks; zero disables a task
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" env-default:"5m"`
	PaymentSweepInterval time.Duration `env:"PAYMENT_SWEEP_INTERVAL" env-default:"2m"`
	StatsInterval        time.Duration `env:"STATS_INTERVAL" env-default:"1h"`

	// Usage statistics built from the audit log
	StatsDays      int `env:"STATS_DAYS" env-default:"30"`
	AuditQueueSize int `env:"AUDIT_QUEUE_SIZE" env-default:"256"`

	// Metrics endpoint authentication.
	// If both are empty, /metrics and /stats will be unprotected (not recommended)
	MetricsUsername     string `env:"METRICS_USERNAME"`
	MetricsPasswordHash string `env:"METRICS_PASSWORD_HASH"` // bcrypt
}

// NewConfig loads .env when present, reads the environment and validates.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerivedDefaults() {
	if c.PaymentNotificationURL == "" {
		c.PaymentNotificationURL = joinURL(c.BaseURL, "/payment/notification")
	}
	if c.PaymentSuccessURL == "" {
		c.PaymentSuccessURL = joinURL(c.BaseURL, "/payment/success")
	}
	if c.PaymentFailURL == "" {
		c.PaymentFailURL = joinURL(c.BaseURL, "/payment/fail")
	}
}

// PaymentsEnabled reports whether a gateway terminal is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.TBankTerminalKey != ""
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.TelegramBotToken == "" {
		add("TELEGRAM_BOT_TOKEN is required")
	}
	if c.ProviderAPIKey == "" {
		add("PROVIDER_API_KEY is required")
	}
	if c.ProviderBaseURL == "" {
		add("PROVIDER_BASE_URL is required")
	} else if !isAbsoluteURL(c.ProviderBaseURL) {
		add("PROVIDER_BASE_URL must be an absolute URL, got %q", c.ProviderBaseURL)
	}
	if c.ProviderMaxAttempts < 1 {
		add("PROVIDER_MAX_ATTEMPTS must be at least 1, got %d", c.ProviderMaxAttempts)
	}
	if c.ProviderClipsAmount < 1 {
		add("PROVIDER_CLIPS_AMOUNT must be at least 1, got %d", c.ProviderClipsAmount)
	}
	if c.BreakerThreshold < 1 {
		add("BREAKER_THRESHOLD must be at least 1, got %d", c.BreakerThreshold)
	}
	if c.TelegramPollTimeout < time.Second {
		add("TELEGRAM_POLL_TIMEOUT must be at least 1s, got %v", c.TelegramPollTimeout)
	}
	if c.UserRateLimit < 1 {
		add("USER_RATE_LIMIT must be at least 1, got %d", c.UserRateLimit)
	}

	if c.PaymentsEnabled() {
		if c.TBankTerminalPassword == "" {
			add("TBANK_TERMINAL_PASSWORD is required when TBANK_TERMINAL_KEY is set")
		}
		if !isAbsoluteURL(c.TBankAPIURL) {
			add("TBANK_API_URL must be an absolute URL, got %q", c.TBankAPIURL)
		}
		if !isAbsoluteURL(c.PaymentNotificationURL) {
			add("PAYMENT_NOTIFICATION_URL must be an absolute URL, got %q", c.PaymentNotificationURL)
		}
	}

	switch c.StoreDriver {
	case store.DriverMemory, store.DriverObject:
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required when STORE_DRIVER is 'postgres'")
		}
	default:
		add("STORE_DRIVER must be one of 'memory', 'postgres' or 'object', got: %s", c.StoreDriver)
	}

	switch c.StorageProvider {
	case "local":
		if c.StorageLocalPath == "" {
			add("STORAGE_LOCAL_PATH is required when STORAGE_PROVIDER is 'local'")
		}
	case "r2":
		if c.R2AccountID == "" {
			add("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			add("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			add("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			add("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	default:
		add("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	if c.ReconcileInterval < 0 || c.PaymentSweepInterval < 0 || c.StatsInterval < 0 {
		add("task intervals must not be negative")
	}
	if c.StatsDays < 1 {
		add("STATS_DAYS must be at least 1, got: %d", c.StatsDays)
	}
	if c.AuditQueueSize < 1 {
		add("AUDIT_QUEUE_SIZE must be at least 1, got: %d", c.AuditQueueSize)
	}
	if (c.MetricsUsername == "") != (c.MetricsPasswordHash == "") {
		add("METRICS_USERNAME and METRICS_PASSWORD_HASH must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func joinURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return u.JoinPath(path).String()
}
