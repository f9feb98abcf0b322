package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings read from the environment.
type Config struct {
	AppEnv   string `validate:"required,oneof=development staging production test"`
	LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`

	// Postgres is used when DatabaseURL is set, SQLite otherwise.
	DatabaseURL string
	DBSchema    string
	SQLitePath  string `validate:"required_without=DatabaseURL"`

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"min=0,max=15"`
	RedisTLS      bool

	HTTPListenAddr   string `validate:"required"`
	PublicBasePath   string
	MetricsNamespace string

	WhatsAppStorePath string `validate:"required"`
	WhatsAppLogLevel  string
	WhatsAppDisabled  bool

	DailyLikesLimit    int `validate:"min=1"`
	DailyDislikesLimit int `validate:"min=1"`
	ReferralBonusLikes int `validate:"min=0"`
	SubscriptionDays   int `validate:"min=1,max=366"`

	PaymentWebhookSecret string
	AdminJWTSecret       string `validate:"omitempty,min=16"`
	AdminTokenTTL        time.Duration

	SentryDSN string `validate:"omitempty,url"`
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	var errs []error
	intEnv := func(key string, fallback int) int {
		v, err := getInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolEnv := func(key string, fallback bool) bool {
		v, err := getBool(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durationEnv := func(key string, fallback time.Duration) time.Duration {
		v, err := getDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBSchema:    getEnv("DB_SCHEMA", "public"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/matchbot.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       intEnv("REDIS_DB", 0),
		RedisTLS:      boolEnv("REDIS_TLS", false),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "matchbot"),

		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsmeow.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),
		WhatsAppDisabled:  boolEnv("WHATSAPP_DISABLED", false),

		DailyLikesLimit:    intEnv("DAILY_LIKES_LIMIT", 10),
		DailyDislikesLimit: intEnv("DAILY_DISLIKES_LIMIT", 50),
		ReferralBonusLikes: intEnv("REFERRAL_BONUS_LIKES", 5),
		SubscriptionDays:   intEnv("SUBSCRIPTION_DAYS", 30),

		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		AdminTokenTTL:        durationEnv("ADMIN_TOKEN_TTL", 12*time.Hour),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// UsePostgres reports whether DATABASE_URL selects the Postgres store.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// SubscriptionPeriod is the length of one paid subscription.
func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
