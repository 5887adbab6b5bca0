// Package config loads runtime settings with viper from config.yaml and the
// environment. Values are injected into components at construction.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// PostgreSQL.
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	// Scheduling provider webhooks.
	SchedulingWebhookSecret      string        `mapstructure:"SCHEDULING_WEBHOOK_SECRET"`
	SchedulingSignatureTolerance time.Duration `mapstructure:"SCHEDULING_SIGNATURE_TOLERANCE"`
	SlotMatchLookback            time.Duration `mapstructure:"SLOT_MATCH_LOOKBACK"`

	// Payment provider.
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	StripeKey            string `mapstructure:"STRIPE_KEY"`
	CheckoutSuccessURL   string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL    string `mapstructure:"CHECKOUT_CANCEL_URL"`

	// Redis backs the task queue and the catalog cache.
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	RedisPassword   string        `mapstructure:"REDIS_PASSWORD"`
	RedisQueueDB    int           `mapstructure:"REDIS_QUEUE_DB"`
	RedisCacheDB    int           `mapstructure:"REDIS_CACHE_DB"`
	CatalogCacheTTL time.Duration `mapstructure:"CATALOG_CACHE_TTL"`

	// Notification broker. Empty disables publishing.
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange string `mapstructure:"NOTIFY_EXCHANGE"`

	// Lifecycle sweeps.
	AbandonAfter time.Duration `mapstructure:"ABANDON_AFTER"`
	SweepSpec    string        `mapstructure:"SWEEP_SPEC"`
}

// Load reads config.yaml from the working directory or ./config, then
// overlays environment variables.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 120)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "bookings")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("SCHEDULING_WEBHOOK_SECRET", "")
	v.SetDefault("SCHEDULING_SIGNATURE_TOLERANCE", 5*time.Minute)
	v.SetDefault("SLOT_MATCH_LOOKBACK", 6*time.Hour)

	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_KEY", "")
	v.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/bookings/success")
	v.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/bookings/cancel")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_QUEUE_DB", 0)
	v.SetDefault("REDIS_CACHE_DB", 1)
	v.SetDefault("CATALOG_CACHE_TTL", 10*time.Minute)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("NOTIFY_EXCHANGE", "booking.events")

	v.SetDefault("ABANDON_AFTER", 24*time.Hour)
	v.SetDefault("SWEEP_SPEC", "@every 5m")
}

// Validate rejects configurations the webhook pipelines cannot run with.
func (c Config) Validate() error {
	if c.SchedulingWebhookSecret == "" {
		return fmt.Errorf("SCHEDULING_WEBHOOK_SECRET is required")
	}
	if c.SchedulingSignatureTolerance <= 0 {
		return fmt.Errorf("SCHEDULING_SIGNATURE_TOLERANCE must be positive")
	}
	if c.AbandonAfter <= 0 {
		return fmt.Errorf("ABANDON_AFTER must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
