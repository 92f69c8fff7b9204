package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Populate the environment from a local .env file when present.
	_ "github.com/joho/godotenv/autoload"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Entitlements  EntitlementsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Public read endpoints are limited per client
	RateLimitPerMinute int
	RateLimitBurst     int

	// Health/metrics server on a separate port
	HealthPort string
}

// DatabaseConfig holds Postgres and Redis settings. An empty DatabaseURL
// selects the in-memory store.
type DatabaseConfig struct {
	DatabaseURL string
	// ReplicaURLs serve question reads when set
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	RedisURL    string
	// QuestionCacheTTL bounds how stale a cached question page can be
	QuestionCacheTTL time.Duration
}

// BillingConfig holds Stripe settings
type BillingConfig struct {
	SecretKey     string
	WebhookSecret string
	ProPriceID    string
	AppURL        string
	DedupTTL      time.Duration
	NotifyTimeout time.Duration
}

// AuthConfig holds identity-provider settings
type AuthConfig struct {
	OIDCIssuerURL string
	OIDCClientID  string
	CacheSize     int
	CacheTTL      time.Duration
	// DevMode accepts unsigned "dev:<user id>:<email>" bearer tokens. Local use only.
	DevMode bool
}

// EntitlementsConfig holds quota policy knobs that are not part of the
// tier mapping itself.
type EntitlementsConfig struct {
	AdminEmails        []string
	AdminAllowlistFile string
	Timezone           string
	ResetSchedule      string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Billing:       loadBillingConfig(),
		Auth:          loadAuthConfig(),
		Entitlements:  loadEntitlementsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		HealthPort:         getEnv("HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		ReplicaURLs: getEnvList("DATABASE_REPLICA_URLS", nil),
		MaxConns:    getEnvInt("DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("DB_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DB_TIMEOUT", 5*time.Second),
		RedisURL:    getEnv("REDIS_URL", ""),

		QuestionCacheTTL: getEnvDuration("QUESTION_CACHE_TTL", 15*time.Minute),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProPriceID:    getEnv("STRIPE_PRO_PRICE_ID", ""),
		AppURL:        strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		DedupTTL:      getEnvDuration("WEBHOOK_DEDUP_TTL", 72*time.Hour),
		NotifyTimeout: getEnvDuration("WEBHOOK_NOTIFY_TIMEOUT", 10*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuerURL: getEnv("OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("OIDC_CLIENT_ID", ""),
		CacheSize:     getEnvInt("AUTH_CACHE_SIZE", 10000),
		CacheTTL:      getEnvDuration("AUTH_CACHE_TTL", 5*time.Minute),
		DevMode:       getEnvBool("AUTH_DEV_MODE", false),
	}
}

func loadEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		AdminEmails:        getEnvList("ADMIN_EMAILS", nil),
		AdminAllowlistFile: getEnv("ADMIN_ALLOWLIST_FILE", ""),
		Timezone:           getEnv("TIMEZONE", "Local"),
		ResetSchedule:      getEnv("RESET_SWEEP_SCHEDULE", "5 0 1 * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "qaserver"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid. All problems are reported
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	if c.Billing.SecretKey != "" && c.Billing.ProPriceID == "" {
		errs = append(errs, errors.New("STRIPE_PRO_PRICE_ID is required when STRIPE_SECRET_KEY is set"))
	}

	if (c.Auth.OIDCIssuerURL == "") != (c.Auth.OIDCClientID == "") {
		errs = append(errs, errors.New("OIDC_ISSUER_URL and OIDC_CLIENT_ID must be set together"))
	}
	if c.Auth.DevMode && c.Auth.OIDCIssuerURL != "" {
		errs = append(errs, errors.New("AUTH_DEV_MODE cannot be combined with OIDC"))
	}

	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}

	if _, err := c.Entitlements.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Entitlements.Timezone, err))
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
	}

	return errors.Join(errs...)
}

// Location resolves the configured timezone used for period boundaries
func (e EntitlementsConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// WebhookEnabled reports whether Stripe webhook verification is configured
func (b BillingConfig) WebhookEnabled() bool {
	return b.WebhookSecret != ""
}

// CheckoutEnabled reports whether the Stripe API client can be created
func (b BillingConfig) CheckoutEnabled() bool {
	return b.SecretKey != ""
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
