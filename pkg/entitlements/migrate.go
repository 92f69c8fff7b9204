package entitlements

import (
	"context"
	"fmt"
	"sort"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// MigrateLegacyTiers rewrites explorer/builder/expert rows to the current
// tiers and repairs monthly limits that disagree with the tier mapping.
// Running it again is a no-op.
func MigrateLegacyTiers(ctx context.Context, store MigrationStore, logger *observability.Logger) (MigrationReport, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	report, err := store.MigrateLegacyTiers(ctx)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("failed to migrate legacy tiers: %w", err)
	}

	names := make([]string, 0, len(report.Migrated))
	for name := range report.Migrated {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.WithFields(map[string]interface{}{
			"from":  name,
			"to":    LegacyTierMapping()[name],
			"users": report.Migrated[name],
		}).Info("legacy tier migrated")
	}
	logger.WithFields(map[string]interface{}{
		"limits_repaired": report.LimitsRepaired,
		"total":           report.Total(),
	}).Info("tier migration completed")

	return report, nil
}
