package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "custom")
	t.Setenv("CFG_TEST_INT", "42")
	t.Setenv("CFG_TEST_BAD_INT", "forty-two")
	t.Setenv("CFG_TEST_BOOL", "true")
	t.Setenv("CFG_TEST_DUR", "90s")
	t.Setenv("CFG_TEST_LIST", " a@example.com, ,b@example.com ")

	assert.Equal(t, "custom", getEnv("CFG_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("CFG_TEST_UNSET", "default"))
	assert.Equal(t, 42, getEnvInt("CFG_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("CFG_TEST_BAD_INT", 1))
	assert.True(t, getEnvBool("CFG_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvDuration("CFG_TEST_DUR", time.Second))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, getEnvList("CFG_TEST_LIST", nil))
	assert.Nil(t, getEnvList("CFG_TEST_UNSET", nil))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "5 0 1 * *", cfg.Entitlements.ResetSchedule)
	assert.Equal(t, 72*time.Hour, cfg.Billing.DedupTTL)
	assert.Equal(t, 15*time.Minute, cfg.Database.QuestionCacheTTL)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "3001")
	t.Setenv("DATABASE_URL", "postgres://localhost/vibecoding")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_PRO_PRICE_ID", "price_pro")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("APP_URL", "https://vibecodingbasics.com/")
	t.Setenv("ADMIN_EMAILS", "admin@example.com")
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("QUESTION_CACHE_TTL", "2m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/vibecoding", cfg.Database.DatabaseURL)
	assert.True(t, cfg.Billing.CheckoutEnabled())
	assert.True(t, cfg.Billing.WebhookEnabled())
	assert.Equal(t, "https://vibecodingbasics.com", cfg.Billing.AppURL)
	assert.Equal(t, []string{"admin@example.com"}, cfg.Entitlements.AdminEmails)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Database.QuestionCacheTTL)

	loc, err := cfg.Entitlements.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Port: "8080", HealthPort: "9090"},
			Entitlements: EntitlementsConfig{Timezone: "UTC"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "must be different",
		},
		{
			name:    "stripe key without price",
			mutate:  func(c *Config) { c.Billing.SecretKey = "sk_test" },
			wantErr: "STRIPE_PRO_PRICE_ID",
		},
		{
			name:    "oidc half configured",
			mutate:  func(c *Config) { c.Auth.OIDCIssuerURL = "https://issuer" },
			wantErr: "OIDC_CLIENT_ID",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Entitlements.Timezone = "Mars/Olympus" },
			wantErr: "invalid TIMEZONE",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
			},
			wantErr: "OpenTelemetry endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
