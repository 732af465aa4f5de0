package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixelmint/pixelmint/pkg/observability"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PIXELMINT_POSTGRES_URL", "postgres://localhost/pixelmint_test")
	t.Setenv("PIXELMINT_CREEM_WEBHOOK_SECRET", "whsec_test")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if !cfg.Billing.Creem.Enabled {
		t.Error("Expected creem enabled by default")
	}
	if cfg.Billing.Stripe.Enabled {
		t.Error("Expected stripe disabled by default")
	}
	if cfg.Billing.StripeTolerance != 5*time.Minute {
		t.Errorf("Expected default stripe tolerance 5m, got %s", cfg.Billing.StripeTolerance)
	}
	if cfg.Auth.SessionTTL != 720*time.Hour {
		t.Errorf("Expected default session TTL 720h, got %s", cfg.Auth.SessionTTL)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("Expected rate limiting enabled by default")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected default log level info, got %s", cfg.Observability.LogLevel)
	}
	if cfg.Observability.OTelServiceName != "pixelmint-billing" {
		t.Errorf("Unexpected OTel service name: %s", cfg.Observability.OTelServiceName)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PIXELMINT_PORT", "3000")
	t.Setenv("PIXELMINT_LOG_LEVEL", "debug")
	t.Setenv("PIXELMINT_STRIPE_ENABLED", "true")
	t.Setenv("PIXELMINT_STRIPE_WEBHOOK_SECRET", "whsec_stripe")
	t.Setenv("PIXELMINT_STRIPE_TOLERANCE", "2m")
	t.Setenv("PIXELMINT_RATE_LIMIT_RPM", "60")
	t.Setenv("PIXELMINT_POSTGRES_MAX_CONNS", "50")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Expected port 3000, got %s", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %s", cfg.Observability.LogLevel)
	}
	if !cfg.Billing.Stripe.Enabled {
		t.Error("Expected stripe enabled")
	}
	if cfg.Billing.StripeTolerance != 2*time.Minute {
		t.Errorf("Expected tolerance 2m, got %s", cfg.Billing.StripeTolerance)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 rpm, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Storage.PostgresMaxConns != 50 {
		t.Errorf("Expected 50 max conns, got %d", cfg.Storage.PostgresMaxConns)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing postgres URL",
			env: map[string]string{
				"PIXELMINT_CREEM_WEBHOOK_SECRET": "whsec_test",
			},
		},
		{
			name: "missing creem webhook secret",
			env: map[string]string{
				"PIXELMINT_POSTGRES_URL": "postgres://localhost/pixelmint_test",
			},
		},
		{
			name: "no provider enabled",
			env: map[string]string{
				"PIXELMINT_POSTGRES_URL":  "postgres://localhost/pixelmint_test",
				"PIXELMINT_CREEM_ENABLED": "false",
			},
		},
		{
			name: "same server and health port",
			env: map[string]string{
				"PIXELMINT_POSTGRES_URL":         "postgres://localhost/pixelmint_test",
				"PIXELMINT_CREEM_WEBHOOK_SECRET": "whsec_test",
				"PIXELMINT_PORT":                 "8080",
				"PIXELMINT_HEALTH_PORT":          "8080",
			},
		},
		{
			name: "OIDC enabled without issuer",
			env: map[string]string{
				"PIXELMINT_POSTGRES_URL":         "postgres://localhost/pixelmint_test",
				"PIXELMINT_CREEM_WEBHOOK_SECRET": "whsec_test",
				"PIXELMINT_OIDC_ENABLED":         "true",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestBillingConfig_Provider(t *testing.T) {
	cfg := BillingConfig{
		Creem:  ProviderConfig{Enabled: true, WebhookSecret: "a"},
		Stripe: ProviderConfig{Enabled: false, WebhookSecret: "b"},
	}

	if _, ok := cfg.Provider("creem"); !ok {
		t.Error("Expected creem to be available")
	}
	if _, ok := cfg.Provider("stripe"); ok {
		t.Error("Expected disabled stripe to be unavailable")
	}
	if _, ok := cfg.Provider("paypal"); ok {
		t.Error("Expected unknown provider to be unavailable")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestApplyFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pixelmint.yaml")
	content := `
server:
  port: "4000"
rate_limit:
  requests_per_minute: 120
observability:
  log_level: error
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := ApplyFile(cfg, path); err != nil {
		t.Fatalf("ApplyFile failed: %v", err)
	}

	if cfg.Server.Port != "4000" {
		t.Errorf("Expected file override port 4000, got %s", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("Expected file override 120 rpm, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Observability.LogLevel != observability.ErrorLevel {
		t.Errorf("Expected file override error level, got %s", cfg.Observability.LogLevel)
	}
	// Untouched fields keep their env/default values
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected health port untouched, got %s", cfg.Server.HealthPort)
	}
}

func TestApplyFile_Errors(t *testing.T) {
	cfg := &Config{}

	t.Run("missing file", func(t *testing.T) {
		if err := ApplyFile(cfg, "/nonexistent/pixelmint.yaml"); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("invalid YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := ApplyFile(cfg, path); err == nil {
			t.Error("Expected error for invalid YAML")
		}
	})
}
