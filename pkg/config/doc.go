// Package config loads service configuration from environment variables.
//
// A .env file in the working directory is loaded first when present, so
// local development can keep secrets out of the shell profile.
//
// Server settings:
//
//	PORT="8080"
//	HEALTH_PORT="9090"
//	ALLOWED_ORIGINS="https://vibecodingbasics.com"
//
// Storage:
//
//	DATABASE_URL="postgres://localhost/vibecoding?sslmode=disable"  # empty: in-memory
//	REDIS_URL="redis://localhost:6379/0"                          # empty: no webhook dedup
//
// Billing:
//
//	STRIPE_SECRET_KEY="sk_test_..."
//	STRIPE_WEBHOOK_SECRET="whsec_..."
//	STRIPE_PRO_PRICE_ID="price_..."
//	APP_URL="https://vibecodingbasics.com"
//
// Entitlements:
//
//	ADMIN_EMAILS="a@example.com,b@example.com"
//	ADMIN_ALLOWLIST_FILE="/etc/vibecoding/admins.yaml"
//	TIMEZONE="America/New_York"
//	RESET_SWEEP_SCHEDULE="5 0 1 * *"
package config
