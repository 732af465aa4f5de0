package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Billing provider configuration
	Billing BillingConfig

	// Auth configuration
	Auth AuthConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ProviderConfig holds credentials for one payment provider
type ProviderConfig struct {
	Enabled       bool
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

// BillingConfig holds payment provider configuration
type BillingConfig struct {
	Creem  ProviderConfig
	Stripe ProviderConfig

	// Maximum accepted age of a signed Stripe webhook timestamp
	StripeTolerance time.Duration

	SuccessURL string
	CancelURL  string
}

// AuthConfig holds session and OIDC configuration
type AuthConfig struct {
	SessionTTL time.Duration

	OIDCEnabled      bool
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// RateLimitConfig holds webhook/API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("PIXELMINT_CONFIG_FILE", ""); path != "" {
		if err := ApplyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to apply config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PIXELMINT_HOST", "0.0.0.0"),
		Port:            getEnv("PIXELMINT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PIXELMINT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PIXELMINT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PIXELMINT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PIXELMINT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PIXELMINT_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("PIXELMINT_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("PIXELMINT_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("PIXELMINT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PIXELMINT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PIXELMINT_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// S3 config
	if s3Endpoint := getEnv("PIXELMINT_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("PIXELMINT_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("PIXELMINT_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("PIXELMINT_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("PIXELMINT_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("PIXELMINT_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	// Redis config
	if redisURL := getEnv("PIXELMINT_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PIXELMINT_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PIXELMINT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PIXELMINT_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PIXELMINT_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadBillingConfig loads payment provider configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		Creem: ProviderConfig{
			Enabled:       getEnvBool("PIXELMINT_CREEM_ENABLED", true),
			APIKey:        getEnv("PIXELMINT_CREEM_API_KEY", ""),
			WebhookSecret: getEnv("PIXELMINT_CREEM_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("PIXELMINT_CREEM_BASE_URL", "https://api.creem.io"),
		},
		Stripe: ProviderConfig{
			Enabled:       getEnvBool("PIXELMINT_STRIPE_ENABLED", false),
			APIKey:        getEnv("PIXELMINT_STRIPE_API_KEY", ""),
			WebhookSecret: getEnv("PIXELMINT_STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("PIXELMINT_STRIPE_BASE_URL", "https://api.stripe.com"),
		},
		StripeTolerance: getEnvDuration("PIXELMINT_STRIPE_TOLERANCE", 5*time.Minute),
		SuccessURL:      getEnv("PIXELMINT_CHECKOUT_SUCCESS_URL", ""),
		CancelURL:       getEnv("PIXELMINT_CHECKOUT_CANCEL_URL", ""),
	}
}

// loadAuthConfig loads session and OIDC configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL:       getEnvDuration("PIXELMINT_SESSION_TTL", 720*time.Hour),
		OIDCEnabled:      getEnvBool("PIXELMINT_OIDC_ENABLED", false),
		OIDCIssuer:       getEnv("PIXELMINT_OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("PIXELMINT_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("PIXELMINT_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("PIXELMINT_OIDC_REDIRECT_URL", ""),
	}
}

// loadRateLimitConfig loads rate limiting configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("PIXELMINT_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("PIXELMINT_RATE_LIMIT_RPM", 300),
		Burst:             getEnvInt("PIXELMINT_RATE_LIMIT_BURST", 50),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           ParseLogLevel(getEnv("PIXELMINT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PIXELMINT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PIXELMINT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PIXELMINT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PIXELMINT_OTEL_SERVICE_NAME", "pixelmint-billing"),
		OTelServiceVersion: getEnv("PIXELMINT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PIXELMINT_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate billing config
	if !c.Billing.Creem.Enabled && !c.Billing.Stripe.Enabled {
		return fmt.Errorf("at least one payment provider must be enabled")
	}
	if c.Billing.Creem.Enabled && c.Billing.Creem.WebhookSecret == "" {
		return fmt.Errorf("creem webhook secret is required when creem is enabled")
	}
	if c.Billing.Stripe.Enabled && c.Billing.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required when stripe is enabled")
	}
	if c.Billing.StripeTolerance <= 0 {
		return fmt.Errorf("stripe tolerance must be positive")
	}

	// Validate auth config
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.OIDCEnabled {
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("OIDC issuer is required when OIDC is enabled")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required when OIDC is enabled")
		}
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit requests per minute must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Provider returns the configuration for a named payment provider.
func (c *BillingConfig) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "creem":
		return c.Creem, c.Creem.Enabled
	case "stripe":
		return c.Stripe, c.Stripe.Enabled
	default:
		return ProviderConfig{}, false
	}
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
