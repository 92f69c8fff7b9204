package entitlements

import "time"

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Period describes the calendar month a timestamp falls in
type Period struct {
	// Start is local midnight on the 1st of the month
	Start time.Time
	// Today is local midnight of the evaluated day
	Today time.Time
	// NextReset is local midnight on the 1st of the following month
	NextReset time.Time
}

// PeriodAt computes the period containing t in loc
func PeriodAt(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return Period{
		Start:     time.Date(y, m, 1, 0, 0, 0, 0, loc),
		Today:     time.Date(y, m, d, 0, 0, 0, 0, loc),
		NextReset: time.Date(y, m+1, 1, 0, 0, 0, 0, loc),
	}
}

// Stale reports whether a last-reset date belongs to an earlier period
func (p Period) Stale(lastReset time.Time) bool {
	if lastReset.IsZero() {
		return true
	}
	y, m, d := lastReset.Date()
	asDate := time.Date(y, m, d, 0, 0, 0, 0, p.Start.Location())
	return asDate.Before(p.Start)
}
