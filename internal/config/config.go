package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingSetting = errors.New("required setting is missing")

type Config struct {
	ServerPort int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	PaymentLinkID       string
	MaxTickets          int64
	LineItemPageLimit   int64

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CounterLockEnabled bool
	CounterLockTTL     time.Duration
	DedupeSessions     bool
	DedupeTTL          time.Duration

	AuditDBEnabled   bool
	DBDriver         string
	DBDataSourceName string
	MigrationsDir    string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: Could not load .env file, using process environment")
	}

	config := &Config{}
	var err error

	if config.ServerPort, err = getEnvInt("PORT", 10000); err != nil {
		return nil, err
	}

	config.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	config.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	config.PaymentLinkID = os.Getenv("PAYMENT_LINK_ID")
	config.StripeAPIURL = os.Getenv("STRIPE_API_URL")
	for _, setting := range []struct{ key, value string }{
		{"STRIPE_SECRET_KEY", config.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", config.StripeWebhookSecret},
		{"PAYMENT_LINK_ID", config.PaymentLinkID},
	} {
		if setting.value == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingSetting, setting.key)
		}
	}

	maxTickets, err := getEnvInt("MAX_TICKETS", 80)
	if err != nil {
		return nil, err
	}
	if maxTickets <= 0 {
		return nil, fmt.Errorf("MAX_TICKETS must be positive, got %d", maxTickets)
	}
	config.MaxTickets = int64(maxTickets)

	pageLimit, err := getEnvInt("LINE_ITEM_PAGE_LIMIT", 100)
	if err != nil {
		return nil, err
	}
	if pageLimit < 1 || pageLimit > 100 {
		return nil, fmt.Errorf("LINE_ITEM_PAGE_LIMIT must be between 1 and 100, got %d", pageLimit)
	}
	config.LineItemPageLimit = int64(pageLimit)

	if config.RedisEnabled, err = getEnvBool("REDIS_ENABLED", false); err != nil {
		return nil, err
	}
	redisHost := getEnvOrDefault("TICKETS_REDIS_HOST", "localhost")
	redisPort := getEnvOrDefault("TICKETS_REDIS_PORT", "6379")
	config.RedisAddr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	config.RedisPassword = os.Getenv("TICKETS_REDIS_PASSWORD")
	if config.RedisDB, err = getEnvInt("TICKETS_REDIS_DB", 0); err != nil {
		return nil, err
	}

	if config.CounterLockEnabled, err = getEnvBool("COUNTER_LOCK_ENABLED", false); err != nil {
		return nil, err
	}
	if config.CounterLockTTL, err = getEnvDuration("COUNTER_LOCK_TTL", 10*time.Second); err != nil {
		return nil, err
	}
	if config.DedupeSessions, err = getEnvBool("DEDUPE_SESSIONS", false); err != nil {
		return nil, err
	}
	if config.DedupeTTL, err = getEnvDuration("DEDUPE_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if (config.CounterLockEnabled || config.DedupeSessions) && !config.RedisEnabled {
		return nil, errors.New("COUNTER_LOCK_ENABLED and DEDUPE_SESSIONS require REDIS_ENABLED=true")
	}

	if config.AuditDBEnabled, err = getEnvBool("AUDIT_DB_ENABLED", false); err != nil {
		return nil, err
	}
	config.DBDriver = "postgres"

	dbHost := getEnvOrDefault("TICKETS_DB_HOST", "localhost")
	dbPort := getEnvOrDefault("TICKETS_DB_PORT", "5432")
	dbName := getEnvOrDefault("TICKETS_DB_DATABASE", "tickets")
	dbUser := getEnvOrDefault("TICKETS_DB_USERNAME", "postgres")
	dbPassword := getEnvOrDefault("TICKETS_DB_PASSWORD", "postgres")

	config.DBDataSourceName = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, dbHost, dbPort, dbName)
	config.MigrationsDir = getEnvOrDefault("MIGRATIONS_DIR", "migrations")

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %s", key, d)
	}
	return d, nil
}
