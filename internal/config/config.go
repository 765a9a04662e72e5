package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" validate:"required"`

	// Completion backends. Tiers in the catalog pick one of these by provider name.
	OpenAIToken    string  `env:"OPENAI_API_KEY"`
	OpenAIEndpoint string  `env:"OPENAI_ENDPOINT" validate:"omitempty,url"`
	GeminiToken    string  `env:"GEMINI_API_KEY"`
	Temperature    float32 `env:"LLM_TEMPERATURE" validate:"gte=0,lte=2"`

	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" validate:"gt=0"`
	BreakerFailures   int           `env:"BREAKER_MAX_FAILURES" validate:"gte=1"`
	BreakerCooldown   time.Duration `env:"BREAKER_COOLDOWN" validate:"gt=0"`

	PostgreDSN string `env:"POSTGRE_DSN"`
	LogLevel   string `env:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogDir     string `env:"LOG_DIR" validate:"required"`

	// Catalog and metering
	CatalogFile       string `env:"CATALOG_FILE"`
	MessagesFile      string `env:"MESSAGES_FILE"`
	InitialCredits    int64  `env:"INITIAL_CREDITS" validate:"gte=0"`
	RechargeCredits   int64  `env:"RECHARGE_CREDITS" validate:"gt=0"`
	AllowFreeRecharge bool   `env:"ALLOW_FREE_RECHARGE"`

	// Session continuation storage: "memory" or "postgres"
	SessionStore string        `env:"SESSION_STORE" validate:"oneof=memory postgres"`
	SessionTTL   time.Duration `env:"SESSION_TTL" validate:"gt=0"`

	// Paid recharge through Stripe Checkout
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	RechargePriceID     string `env:"RECHARGE_PRICE_ID"`

	// Webhook server (Stripe, health, metrics)
	WebhookPort string `env:"WEBHOOK_PORT" validate:"required,numeric"`
	BaseURL     string `env:"BASE_URL" validate:"omitempty,url"`

	// Outbound Telegram rate limits (messages per second)
	GlobalRateLimit  float64 `env:"TELEGRAM_GLOBAL_RATE" validate:"gt=0"`
	PerUserRateLimit float64 `env:"TELEGRAM_USER_RATE" validate:"gt=0"`
	Workers          int     `env:"TELEGRAM_WORKERS" validate:"gte=1"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIToken:      os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint:   os.Getenv("OPENAI_ENDPOINT"),
		GeminiToken:      os.Getenv("GEMINI_API_KEY"),
		PostgreDSN:       os.Getenv("POSTGRE_DSN"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogDir:           getEnvOrDefault("LOG_DIR", "logs"),
		CatalogFile:      os.Getenv("CATALOG_FILE"),
		MessagesFile:     os.Getenv("MESSAGES_FILE"),
		SessionStore:     getEnvOrDefault("SESSION_STORE", "memory"),
		WebhookPort:      getEnvOrDefault("WEBHOOK_PORT", "8080"),
		BaseURL:          os.Getenv("BASE_URL"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		RechargePriceID:     os.Getenv("RECHARGE_PRICE_ID"),
	}

	var err error
	if cfg.Temperature, err = getFloatOrDefault("LLM_TEMPERATURE", 0.5); err != nil {
		return nil, err
	}
	if cfg.CompletionTimeout, err = getDurationOrDefault("COMPLETION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BreakerFailures, err = getIntOrDefault("BREAKER_MAX_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerCooldown, err = getDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.InitialCredits, err = getInt64OrDefault("INITIAL_CREDITS", 15); err != nil {
		return nil, err
	}
	if cfg.RechargeCredits, err = getInt64OrDefault("RECHARGE_CREDITS", 15); err != nil {
		return nil, err
	}
	if cfg.AllowFreeRecharge, err = getBoolOrDefault("ALLOW_FREE_RECHARGE", false); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDurationOrDefault("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.GlobalRateLimit, err = getFloat64OrDefault("TELEGRAM_GLOBAL_RATE", 30); err != nil {
		return nil, err
	}
	if cfg.PerUserRateLimit, err = getFloat64OrDefault("TELEGRAM_USER_RATE", 1); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getIntOrDefault("TELEGRAM_WORKERS", 8); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report env var names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("env")
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					msgs = append(msgs, fmt.Sprintf("required environment variable %s is not set", fe.Field()))
					continue
				}
				msgs = append(msgs, fmt.Sprintf("environment variable %s failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.SessionStore == "postgres" && !c.HasDatabaseConfig() {
		return fmt.Errorf("SESSION_STORE=postgres requires POSTGRE_DSN")
	}

	if c.HasStripeConfig() && c.BaseURL == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY requires BASE_URL for checkout redirects")
	}

	return nil
}

// HasStripeConfig reports whether paid recharge is fully configured
func (c *Config) HasStripeConfig() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != "" && c.RechargePriceID != ""
}

func (c *Config) HasOpenAIConfig() bool {
	return c.OpenAIToken != ""
}

func (c *Config) HasGeminiConfig() bool {
	return c.GeminiToken != ""
}

// HasLLMConfig reports whether at least one completion backend is usable
func (c *Config) HasLLMConfig() bool {
	return c.HasOpenAIConfig() || c.HasGeminiConfig()
}

func (c *Config) HasDatabaseConfig() bool {
	return c.PostgreDSN != ""
}

// getEnvOrDefault returns the environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	n, err := getInt64OrDefault(key, int64(defaultValue))
	return int(n), err
}

func getFloatOrDefault(key string, defaultValue float32) (float32, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return float32(f), nil
}

func getFloat64OrDefault(key string, defaultValue float64) (float64, error) {
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

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
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

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
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
