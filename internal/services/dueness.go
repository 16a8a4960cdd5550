package services

import (
	"time"

	"spendly/internal/core"
)

// NextMonthlyDue returns the occurrence one month after from on anchorDay,
// clamped to the last day of short months. The time of day is kept.
func NextMonthlyDue(from time.Time, anchorDay int) time.Time {
	from = from.UTC()
	next := core.PeriodOf(from).Add(1)

	day := anchorDay
	if last := lastDayOfMonth(next); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(next.Year, next.Month, day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), time.UTC)
}

// IsDue reports whether a template should run at now.
func IsDue(rt core.RecurringTransaction, now time.Time) bool {
	if rt.NextDue.IsZero() {
		return false
	}
	return !rt.NextDue.After(now)
}

func lastDayOfMonth(p core.Period) int {
	return p.End().AddDate(0, 0, -1).Day()
}
