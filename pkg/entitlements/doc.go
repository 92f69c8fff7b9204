// Package entitlements decides whether a user may perform a metered action
// in the current billing period and keeps the usage counter for that period.
//
// # Tiers
//
// There is a single authoritative tier mapping:
//
//	free: 30 questions per calendar month
//	pro:  unlimited (MonthlyLimit -1)
//
// The older explorer/builder/expert names are accepted by ParseTier and
// rewritten once by MigrateLegacyTiers.
//
// # Components
//
// Resolver answers "may this user act now?" and never mutates the counter
// itself. Ledger rolls the counter over at month boundaries and counts one
// unit per recorded action. Both rely on the Store for atomicity: rollover
// is a conditional update on last_reset_date, counting is an in-place
// increment. No in-process locks are taken.
//
//	resolver := entitlements.NewResolver(store, allowList, logger)
//	decision, err := resolver.Evaluate(ctx, userID)
//	if !decision.CanAct {
//		// 429 with decision.Used, decision.Limit, decision.ResetAt
//	}
//	// perform the action, then
//	if err := resolver.RecordUsage(ctx, userID); err != nil {
//		logger.WithError(err).Warn("usage not recorded")
//	}
//
// Evaluate fails closed: any store failure yields a deny together with an
// error wrapping ErrStoreUnavailable.
package entitlements
