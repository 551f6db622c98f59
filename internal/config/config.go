package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	AppEnv      string `koanf:"APP_ENV"`
	Port        int    `koanf:"PORT"`
	DatabaseURL string `koanf:"DATABASE_URL"`
	RedisURL    string `koanf:"REDIS_URL"`

	JWTSecret     string        `koanf:"JWT_SECRET"`
	SessionTTL    time.Duration `koanf:"AUTH_SESSION_TTL"`
	CORSOrigins   string        `koanf:"CORS_ALLOWED_ORIGINS"`
	PublicBaseURL string        `koanf:"PUBLIC_BASE_URL"`

	// Payment session and poller tuning.
	PaymentSessionTTL    time.Duration `koanf:"PAYMENT_SESSION_TTL"`
	PaymentSessionGrace  time.Duration `koanf:"PAYMENT_SESSION_GRACE"`
	PollDelay            time.Duration `koanf:"PAYMENT_POLL_DELAY"`
	PollWidgetAttempts   int           `koanf:"PAYMENT_POLL_WIDGET_ATTEMPTS"`
	PollRecoveryAttempts int           `koanf:"PAYMENT_POLL_RECOVERY_ATTEMPTS"`
	ReconcileDelay       time.Duration `koanf:"PAYMENT_RECONCILE_DELAY"`

	// Outbound HTTP resilience.
	HTTPTimeout         time.Duration `koanf:"HTTP_TIMEOUT"`
	HTTPMaxAttempts     int           `koanf:"HTTP_MAX_ATTEMPTS"`
	HTTPBackoffBase     time.Duration `koanf:"HTTP_BACKOFF_BASE"`
	HTTPBackoffJitter   float64       `koanf:"HTTP_BACKOFF_JITTER"`
	BreakerMinRequests  int           `koanf:"BREAKER_MIN_REQUESTS"`
	BreakerFailureRatio float64       `koanf:"BREAKER_FAILURE_RATIO"`
	BreakerOpenFor      time.Duration `koanf:"BREAKER_OPEN_FOR"`

	// Queue and worker.
	QueueName          string        `koanf:"QUEUE_NAME"`
	QueueMaxDeliveries int           `koanf:"QUEUE_MAX_DELIVERIES"`
	QueuePollInterval  time.Duration `koanf:"QUEUE_POLL_INTERVAL"`

	// Public endpoint protection.
	RateLimitRequests int           `koanf:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `koanf:"RATE_LIMIT_WINDOW"`
	MaxBodyBytes      int64         `koanf:"MAX_BODY_BYTES"`

	IdempotencyTTL time.Duration `koanf:"IDEMPOTENCY_TTL"`

	TelegramAPIBase string `koanf:"TELEGRAM_API_BASE"`

	// Observability.
	LogLevel             string  `koanf:"LOG_LEVEL"`
	TracingEnabled       bool    `koanf:"TRACING_ENABLED"`
	TracingEndpoint      string  `koanf:"TRACING_ENDPOINT"`
	TracingSamplingRatio float64 `koanf:"TRACING_SAMPLING_RATIO"`
	MetricsBucketsMS     string  `koanf:"METRICS_BUCKETS_MS"`
}

// Load reads .env when present, then the process environment, and applies
// defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Config{
		AppEnv:               "development",
		Port:                 8080,
		SessionTTL:           12 * time.Hour,
		PaymentSessionTTL:    30 * time.Minute,
		PaymentSessionGrace:  5 * time.Second,
		PollDelay:            1500 * time.Millisecond,
		PollWidgetAttempts:   2,
		PollRecoveryAttempts: 30,
		ReconcileDelay:       10 * time.Minute,
		HTTPTimeout:          10 * time.Second,
		HTTPMaxAttempts:      3,
		HTTPBackoffBase:      200 * time.Millisecond,
		HTTPBackoffJitter:    0.2,
		BreakerMinRequests:   10,
		BreakerFailureRatio:  0.5,
		BreakerOpenFor:       30 * time.Second,
		QueueName:            "notify",
		QueueMaxDeliveries:   5,
		QueuePollInterval:    time.Second,
		RateLimitRequests:    60,
		RateLimitWindow:      time.Minute,
		MaxBodyBytes:         64 << 10,
		IdempotencyTTL:       24 * time.Hour,
		TelegramAPIBase:      "https://api.telegram.org",
		LogLevel:             "info",
		TracingSamplingRatio: 1,
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.IsProduction() && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.PollWidgetAttempts < 1 || c.PollRecoveryAttempts < 1 {
		return fmt.Errorf("poll attempt budgets must be at least 1")
	}
	return nil
}

// IsProduction reports whether the app runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// CORSOriginList splits the comma-separated origins setting.
func (c Config) CORSOriginList() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
