package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	LogFormat          string
	LogLevel           string
	CORSAllowedOrigins []string

	TaxMode           string
	CurrencyCode      string
	LoyaltyPointValue decimal.Decimal

	InvoicingBaseURL string
	InvoicingAPIKey  string
	InvoicingMock    bool
	InvoicingTimeout time.Duration

	IdempotencyTTL time.Duration
	QueuePrefix    string

	StockRefreshURL         string
	CustomerStatsRefreshURL string
	RefreshWorkerCount      int

	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	TracingEnabled       bool
	TracingEndpoint      string
	TracingSamplingRatio float64
	MetricsBucketsCSV    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TaxMode:           valueOrDefault(k.String("TAX_MODE"), "exclusive"),
		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "INR"),
		LoyaltyPointValue: parseDecimal(k.String("LOYALTY_POINT_VALUE"), "1"),

		InvoicingBaseURL: k.String("INVOICING_BASE_URL"),
		InvoicingAPIKey:  k.String("INVOICING_API_KEY"),
		InvoicingMock:    parseBool(k.String("INVOICING_MOCK")),
		InvoicingTimeout: parseDuration(k.String("INVOICING_TIMEOUT"), "15s"),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		QueuePrefix:    valueOrDefault(k.String("QUEUE_PREFIX"), "kasir"),

		StockRefreshURL:         k.String("STOCK_REFRESH_URL"),
		CustomerStatsRefreshURL: k.String("CUSTOMER_STATS_REFRESH_URL"),
		RefreshWorkerCount:      parseInt(k.String("REFRESH_WORKER_COUNT"), 2),

		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		TracingEnabled:       parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint:      k.String("TRACING_ENDPOINT"),
		TracingSamplingRatio: parseFloat(k.String("TRACING_SAMPLING_RATIO"), 1),
		MetricsBucketsCSV:    k.String("METRICS_BUCKETS_MS"),
	}

	switch strings.ToLower(cfg.TaxMode) {
	case "inclusive", "exclusive":
	default:
		return nil, fmt.Errorf("TAX_MODE %q is not supported", cfg.TaxMode)
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if !cfg.InvoicingMock && cfg.InvoicingBaseURL == "" {
		return nil, errors.New("INVOICING_BASE_URL is required unless INVOICING_MOCK is set")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDecimal(value, fallback string) decimal.Decimal {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = fallback
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
