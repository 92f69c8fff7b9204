package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/storage/postgres"
)

// Config holds the maintenance command configuration
type Config struct {
	DBConnectionString string
	Timezone           string
	ResetStale         bool
	Timeout            time.Duration
	LogLevel           string
}

// tier-migrate rewrites retired tier names in the entitlement table and can
// roll stale usage counters over outside the server's schedule.
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	if config.DBConnectionString == "" {
		logger.Fatal("DATABASE_URL or -db is required")
	}
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		logger.Fatalf("Invalid timezone %q: %v", config.Timezone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL: config.DBConnectionString,
		MaxConns:   2,
		MinConns:   1,
	}, observability.NopLogger())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	if err := postgres.EnsureSchema(ctx, conns.Primary()); err != nil {
		logger.Fatalf("Failed to ensure schema: %v", err)
	}
	store := postgres.NewEntitlementStore(conns.Primary())

	report, err := entitlements.MigrateLegacyTiers(ctx, store, observability.NopLogger())
	if err != nil {
		logger.Fatalf("Tier migration failed: %v", err)
	}
	logReport(logger, report)

	if config.ResetStale {
		ledger := entitlements.NewLedger(store, entitlements.WithLocation(loc))
		n, err := ledger.ResetAll(ctx)
		if err != nil {
			logger.Fatalf("Usage rollover failed: %v", err)
		}
		logger.WithField("reset", n).Info("Stale usage counters rolled over")
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.DBConnectionString, "db", os.Getenv("DATABASE_URL"), "Database connection string")
	flag.StringVar(&config.Timezone, "timezone", getEnv("TIMEZONE", "Local"), "Timezone for usage periods")
	flag.BoolVar(&config.ResetStale, "reset-stale", false, "Also roll over usage counters from previous months")
	flag.DurationVar(&config.Timeout, "timeout", 5*time.Minute, "Maximum run time")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func logReport(logger *logrus.Logger, report entitlements.MigrationReport) {
	if report.Total() == 0 {
		logger.Info("No legacy tiers found, nothing to migrate")
		return
	}

	tiers := make([]string, 0, len(report.Migrated))
	for tier := range report.Migrated {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		logger.WithFields(logrus.Fields{
			"from":  tier,
			"users": report.Migrated[tier],
		}).Info("Migrated legacy tier")
	}
	logger.WithFields(logrus.Fields{
		"limits_repaired": report.LimitsRepaired,
		"total":           report.Total(),
	}).Info("Tier migration completed")
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
